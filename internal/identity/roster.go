// Package identity holds the mocked user roster. There is no real identity
// provider: sessions are issued against this fixed list, and every
// permission check receives the identity and role explicitly, so swapping
// in a real provider later changes nothing downstream.
package identity

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
}

var roster = []User{
	{
		ID:          "user-1",
		DisplayName: "Akshat (User)",
		Email:       "akshat.user@example.com",
		Role:        "user",
	},
	{
		ID:          "user-2",
		DisplayName: "OPS Admin",
		Email:       "admin@example.com",
		Role:        "admin",
	},
	{
		ID:          "user-3",
		DisplayName: "OPS Viewer (Read-only)",
		Email:       "viewer@example.com",
		Role:        "viewer",
	},
}

// Roster returns the mock users available for login.
func Roster() []User {
	users := make([]User, len(roster))
	copy(users, roster)
	return users
}

// Lookup finds a roster user by ID.
func Lookup(id string) (User, bool) {
	for _, user := range roster {
		if user.ID == id {
			return user, true
		}
	}
	return User{}, false
}

// DisplayName maps a stored user ID to a human-friendly name, falling back
// to the raw ID for identities that predate the roster (seeded data).
func DisplayName(id string) string {
	if user, ok := Lookup(id); ok {
		return user.DisplayName
	}
	if id == "admin-seed" {
		return "Seeded Admin Record Owner"
	}
	return id
}

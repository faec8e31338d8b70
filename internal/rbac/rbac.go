package rbac

type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
)

// CanEdit reports whether the actor may save a content edit on a record.
func CanEdit(role Role, actorID, ownerID string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return actorID == ownerID
	default:
		return false
	}
}

// CanOverride reports whether the actor may save a metadata override.
func CanOverride(role Role) bool {
	return role == RoleAdmin
}

// CanSeeRecord reports whether the record is visible to the actor at all.
// Admins see everything, users see their own records, viewers see records
// that have left draft.
func CanSeeRecord(role Role, actorID, ownerID, status string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return actorID == ownerID
	case RoleViewer:
		return status != StatusDraft
	default:
		return false
	}
}

// CanComment reports whether the actor may add a comment to a record.
// Commenting requires write-capable access to a visible record; viewers
// never comment.
func CanComment(role Role, actorID, ownerID, status string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return CanSeeRecord(role, actorID, ownerID, status)
	default:
		return false
	}
}

// CanModifyComment reports whether the actor may edit or delete a comment.
func CanModifyComment(role Role, actorID, commentAuthorID string) bool {
	if role == RoleAdmin {
		return true
	}
	if role == RoleViewer {
		return false
	}
	return actorID == commentAuthorID
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

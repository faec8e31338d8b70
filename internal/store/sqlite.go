package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intake/api/internal/identity"
)

// ErrVersionConflict is returned when a version append does not line up with
// the record's current version counter.
var ErrVersionConflict = errors.New("version conflict")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const recordColumns = `id, title, record_type, business_problem, description, framework_tags, capability_groups, status, created_by, created_by_name, created_at, current_version`

// CreateRecord inserts a record together with its initial version in one
// transaction. The record's current_version must equal the version's number.
func (s *SQLiteStore) CreateRecord(ctx context.Context, record Record, initial RecordVersion) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, groups, err := encodeLists(record.FrameworkTags, record.CapabilityGroups)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Title, record.RecordType, record.BusinessProblem, record.Description,
		tags, groups, record.Status, record.CreatedBy, record.CreatedByName,
		formatTime(record.CreatedAt), record.CurrentVersion); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	versionID, err := insertVersion(ctx, tx, initial)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create record: %w", err)
	}
	return versionID, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, recordID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE id=?
	`, recordID)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		item, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// AppendVersion persists a new version snapshot, its override events, and
// the record's refreshed current state as a single transaction. The version
// number must be exactly one past the record's counter; anything else rolls
// back with ErrVersionConflict.
func (s *SQLiteStore) AppendVersion(ctx context.Context, version RecordVersion, events []OverrideEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	versionID, err := insertVersion(ctx, tx, version)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		original, err := json.Marshal(event.OriginalValue)
		if err != nil {
			return 0, fmt.Errorf("marshal original value: %w", err)
		}
		updated, err := json.Marshal(event.NewValue)
		if err != nil {
			return 0, fmt.Errorf("marshal new value: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO override_events (record_id, version_id, field_path, original_value, new_value, overridden_by, overridden_by_name, overridden_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, version.RecordID, versionID, event.FieldPath, string(original), string(updated),
			event.OverriddenBy, event.OverriddenByName, formatTime(event.OverriddenAt)); err != nil {
			return 0, fmt.Errorf("insert override event: %w", err)
		}
	}

	tags, groups, err := encodeLists(version.FrameworkTags, version.CapabilityGroups)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE records
		SET title=?, business_problem=?, description=?, framework_tags=?, capability_groups=?, status=?, current_version=?
		WHERE id=? AND current_version=?
	`, version.Title, version.BusinessProblem, version.Description, tags, groups, version.Status,
		version.VersionNumber, version.RecordID, version.VersionNumber-1)
	if err != nil {
		return 0, fmt.Errorf("update record state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update record state rows: %w", err)
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append version: %w", err)
	}
	return versionID, nil
}

const versionColumns = `id, record_id, version_number, version_type, title, business_problem, description, framework_tags, capability_groups, status, created_by, created_by_name, created_at`

func insertVersion(ctx context.Context, tx *sql.Tx, version RecordVersion) (int64, error) {
	tags, groups, err := encodeLists(version.FrameworkTags, version.CapabilityGroups)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO record_versions (record_id, version_number, version_type, title, business_problem, description, framework_tags, capability_groups, status, created_by, created_by_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, version.RecordID, version.VersionNumber, version.VersionType, version.Title,
		version.BusinessProblem, version.Description, tags, groups, version.Status,
		version.CreatedBy, version.CreatedByName, formatTime(version.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert record version: %w", err)
	}
	versionID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record version id: %w", err)
	}
	return versionID, nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, recordID string) ([]RecordVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM record_versions
		WHERE record_id=?
		ORDER BY version_number ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]RecordVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, recordID string, versionNumber int) (RecordVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM record_versions
		WHERE record_id=? AND version_number=?
	`, recordID, versionNumber)
	return scanVersion(row)
}

func (s *SQLiteStore) CountVersions(ctx context.Context, recordID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM record_versions WHERE record_id=?`, recordID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ListOverrideEvents(ctx context.Context, recordID string) ([]OverrideEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.record_id, e.version_id, v.version_number, e.field_path, e.original_value, e.new_value, e.overridden_by, e.overridden_by_name, e.overridden_at
		FROM override_events e
		JOIN record_versions v ON v.id = e.version_id
		WHERE e.record_id=?
		ORDER BY e.id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list override events: %w", err)
	}
	defer rows.Close()

	items := make([]OverrideEvent, 0)
	for rows.Next() {
		var item OverrideEvent
		var original, updated, overriddenAt string
		if err := rows.Scan(
			&item.ID,
			&item.RecordID,
			&item.VersionID,
			&item.VersionNumber,
			&item.FieldPath,
			&original,
			&updated,
			&item.OverriddenBy,
			&item.OverriddenByName,
			&overriddenAt,
		); err != nil {
			return nil, fmt.Errorf("scan override event: %w", err)
		}
		if err := json.Unmarshal([]byte(original), &item.OriginalValue); err != nil {
			return nil, fmt.Errorf("decode original value: %w", err)
		}
		if err := json.Unmarshal([]byte(updated), &item.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
		if item.OverriddenAt, err = parseTime(overriddenAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate override events: %w", err)
	}
	return items, nil
}

const commentColumns = `id, record_id, author_id, author_name, role, body, created_at, updated_at`

func (s *SQLiteStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (`+commentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.RecordID, comment.AuthorID, comment.AuthorName, comment.Role,
		comment.Body, formatTime(comment.CreatedAt), formatTime(comment.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE id=?
	`, commentID)
	return scanComment(row)
}

func (s *SQLiteStore) ListComments(ctx context.Context, recordID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE record_id=?
		ORDER BY created_at ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) UpdateComment(ctx context.Context, commentID, body string, updatedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET body=?, updated_at=? WHERE id=?
	`, body, formatTime(updatedAt), commentID)
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) SummaryCounts(ctx context.Context) (total int, drafts int, submitted int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&total); err != nil {
		err = fmt.Errorf("count all records: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE status='draft'`).Scan(&drafts); err != nil {
		err = fmt.Errorf("count draft records: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE status='submitted'`).Scan(&submitted); err != nil {
		err = fmt.Errorf("count submitted records: %w", err)
		return
	}
	return
}

// SaveRefreshSession stores the expiry in UTC so the string comparison in
// lookup stays chronological.
func (s *SQLiteStore) SaveRefreshSession(ctx context.Context, tokenHash string, user identity.User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, user_name, role, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=excluded.user_id, user_name=excluded.user_name, role=excluded.role, expires_at=excluded.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, user.DisplayName, user.Role, formatTime(expiresAt.UTC()))
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LookupRefreshSession(ctx context.Context, tokenHash string) (identity.User, error) {
	var user identity.User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, user_name, role
		FROM refresh_sessions
		WHERE token_hash=?
			AND revoked_at IS NULL
			AND expires_at > ?
	`, tokenHash, formatTime(time.Now().UTC())).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return identity.User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *SQLiteStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at=? WHERE token_hash=?
	`, formatTime(time.Now()), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var item Record
	var tags, groups, createdAt string
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.RecordType,
		&item.BusinessProblem,
		&item.Description,
		&tags,
		&groups,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedByName,
		&createdAt,
		&item.CurrentVersion,
	); err != nil {
		return Record{}, err
	}
	var err error
	if item.FrameworkTags, item.CapabilityGroups, err = decodeLists(tags, groups); err != nil {
		return Record{}, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return Record{}, err
	}
	return item, nil
}

func scanVersion(row rowScanner) (RecordVersion, error) {
	var item RecordVersion
	var tags, groups, createdAt string
	if err := row.Scan(
		&item.ID,
		&item.RecordID,
		&item.VersionNumber,
		&item.VersionType,
		&item.Title,
		&item.BusinessProblem,
		&item.Description,
		&tags,
		&groups,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedByName,
		&createdAt,
	); err != nil {
		return RecordVersion{}, err
	}
	var err error
	if item.FrameworkTags, item.CapabilityGroups, err = decodeLists(tags, groups); err != nil {
		return RecordVersion{}, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return RecordVersion{}, err
	}
	return item, nil
}

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	var createdAt, updatedAt string
	if err := row.Scan(
		&item.ID,
		&item.RecordID,
		&item.AuthorID,
		&item.AuthorName,
		&item.Role,
		&item.Body,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Comment{}, err
	}
	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return Comment{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Comment{}, err
	}
	return item, nil
}

func encodeLists(tags, groups []string) (string, string, error) {
	encodedTags, err := encodeList(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode framework tags: %w", err)
	}
	encodedGroups, err := encodeList(groups)
	if err != nil {
		return "", "", fmt.Errorf("encode capability groups: %w", err)
	}
	return encodedTags, encodedGroups, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeLists(tags, groups string) ([]string, []string, error) {
	var decodedTags, decodedGroups []string
	if err := json.Unmarshal([]byte(tags), &decodedTags); err != nil {
		return nil, nil, fmt.Errorf("decode framework tags: %w", err)
	}
	if err := json.Unmarshal([]byte(groups), &decodedGroups); err != nil {
		return nil, nil, fmt.Errorf("decode capability groups: %w", err)
	}
	return decodedTags, decodedGroups, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func parseTime(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", raw, err)
	}
	return parsed, nil
}

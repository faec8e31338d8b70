package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"intake/api/internal/auth"
	"intake/api/internal/config"
	"intake/api/internal/identity"
	"intake/api/internal/rbac"
	"intake/api/internal/search"
	"intake/api/internal/store"
	"intake/api/internal/util"
	"intake/api/internal/version"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type RecordInput struct {
	Title            string `json:"title"`
	BusinessProblem  string `json:"businessProblem"`
	Description      string `json:"description"`
	FrameworkTags    string `json:"frameworkTags"`
	CapabilityGroups string `json:"capabilityGroups"`
	Status           string `json:"status"`
	VersionType      string `json:"versionType"`
}

type CommentInput struct {
	Body string `json:"body"`
}

var allowedStatuses = map[string]struct{}{
	rbac.StatusDraft:     {},
	rbac.StatusSubmitted: {},
}

type dataStore interface {
	CreateRecord(context.Context, store.Record, store.RecordVersion) (int64, error)
	GetRecord(context.Context, string) (store.Record, error)
	ListRecords(context.Context) ([]store.Record, error)
	CountRecords(context.Context) (int, error)
	AppendVersion(context.Context, store.RecordVersion, []store.OverrideEvent) (int64, error)
	ListVersions(context.Context, string) ([]store.RecordVersion, error)
	GetVersion(context.Context, string, int) (store.RecordVersion, error)
	ListOverrideEvents(context.Context, string) ([]store.OverrideEvent, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	UpdateComment(context.Context, string, string, time.Time) (bool, error)
	DeleteComment(context.Context, string) (bool, error)
	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user identity.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (identity.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexRecord(search.RecordDoc)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchIndex
}

// New wires the service against the SQLite store. The session store may be
// the same SQLite store or a Redis-backed one; searcher may be nil when
// search is not configured.
func New(cfg config.Config, dataStore *store.SQLiteStore, sessions sessionStore, searcher *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
	}
	if searcher != nil {
		s.search = searcher
	}
	return s
}

// Bootstrap seeds two demo records when the database is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountRecords(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	owner, _ := identity.Lookup("user-1")

	seeds := []struct {
		Owner            identity.User
		Title            string
		BusinessProblem  string
		Description      string
		FrameworkTags    []string
		CapabilityGroups []string
		Status           string
	}{
		{
			Owner:            owner,
			Title:            "Fraud Detection in Benefit Claims",
			BusinessProblem:  "Detect suspicious benefit claims using AI.",
			Description:      "Use classification models to flag high-risk claims for review.",
			FrameworkTags:    []string{"Risk & Governance"},
			CapabilityGroups: []string{"Fraud Detection"},
			Status:           rbac.StatusDraft,
		},
		{
			Owner: identity.User{
				ID:          "admin-seed",
				DisplayName: "Seeded Admin Record Owner",
				Email:       "seeded-admin@example.com",
				Role:        string(rbac.RoleAdmin),
			},
			Title:            "Policy Document Summarization",
			BusinessProblem:  "Automate document summarization for policy briefs.",
			Description:      "Use NLP to create short summaries for long policy documents.",
			FrameworkTags:    []string{"Knowledge Management"},
			CapabilityGroups: []string{"NLP"},
			Status:           rbac.StatusSubmitted,
		},
	}

	for _, seed := range seeds {
		now := version.Now()
		record := store.Record{
			ID:               util.NewID("rec"),
			Title:            seed.Title,
			RecordType:       "ai_use_case",
			BusinessProblem:  seed.BusinessProblem,
			Description:      seed.Description,
			FrameworkTags:    seed.FrameworkTags,
			CapabilityGroups: seed.CapabilityGroups,
			Status:           seed.Status,
			CreatedBy:        seed.Owner.ID,
			CreatedByName:    seed.Owner.DisplayName,
			CreatedAt:        now,
			CurrentVersion:   1,
		}
		if _, err := s.store.CreateRecord(ctx, record, initialVersion(record)); err != nil {
			return err
		}
		s.indexRecord(record)
	}
	return nil
}

func initialVersion(record store.Record) store.RecordVersion {
	return store.RecordVersion{
		RecordID:         record.ID,
		VersionNumber:    1,
		VersionType:      version.TypeEdit,
		Title:            record.Title,
		BusinessProblem:  record.BusinessProblem,
		Description:      record.Description,
		FrameworkTags:    record.FrameworkTags,
		CapabilityGroups: record.CapabilityGroups,
		Status:           record.Status,
		CreatedBy:        record.CreatedBy,
		CreatedByName:    record.CreatedByName,
		CreatedAt:        record.CreatedAt,
	}
}

// ListUsers returns the mock roster shown on the login screen.
func (s *Service) ListUsers() []map[string]any {
	users := identity.Roster()
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, map[string]any{
			"id":          user.ID,
			"displayName": user.DisplayName,
			"email":       user.Email,
			"role":        user.Role,
		})
	}
	return payload
}

func (s *Service) Login(ctx context.Context, userID string) (Session, error) {
	user, ok := identity.Lookup(strings.TrimSpace(userID))
	if !ok {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unknown user", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user identity.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: string(rbac.Normalize(user.Role)),
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken rebuilds the session from the access token alone. The
// claims carry the full roster identity, so no store lookup is needed.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateRecord(ctx context.Context, session Session, input RecordInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = rbac.StatusDraft
	}
	if _, ok := allowedStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown status", map[string]any{"status": status})
	}
	role := rbac.Normalize(session.Role)
	if role == rbac.RoleViewer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Viewers cannot create records", nil)
	}

	now := version.Now()
	record := store.Record{
		ID:               util.NewID("rec"),
		Title:            title,
		RecordType:       "ai_use_case",
		BusinessProblem:  input.BusinessProblem,
		Description:      input.Description,
		FrameworkTags:    version.ParseList(input.FrameworkTags),
		CapabilityGroups: version.ParseList(input.CapabilityGroups),
		Status:           status,
		CreatedBy:        session.UserID,
		CreatedByName:    session.UserName,
		CreatedAt:        now,
		CurrentVersion:   1,
	}
	if _, err := s.store.CreateRecord(ctx, record, initialVersion(record)); err != nil {
		return nil, err
	}
	s.indexRecord(record)
	return recordPayload(record), nil
}

// UpdateRecord appends a new version to a record. The caller declares the
// intent as "edit" or "override"; the intent decides which permission gate
// applies and whether metadata changes produce audit events.
func (s *Service) UpdateRecord(ctx context.Context, session Session, recordID string, input RecordInput) (map[string]any, error) {
	record, err := s.visibleRecord(ctx, session, recordID)
	if err != nil {
		return nil, err
	}

	role := rbac.Normalize(session.Role)
	switch input.VersionType {
	case version.TypeEdit:
		if !rbac.CanEdit(role, session.UserID, record.CreatedBy) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot edit this record", nil)
		}
	case version.TypeOverride:
		if !rbac.CanOverride(role) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can override metadata", nil)
		}
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown version type", map[string]any{"versionType": input.VersionType})
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = record.Status
	}
	if _, ok := allowedStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown status", map[string]any{"status": status})
	}

	now := version.Now()
	proposed := version.Snapshot{
		BusinessProblem:  input.BusinessProblem,
		Description:      input.Description,
		FrameworkTags:    version.ParseList(input.FrameworkTags),
		CapabilityGroups: version.ParseList(input.CapabilityGroups),
	}

	next := store.RecordVersion{
		RecordID:         record.ID,
		VersionNumber:    record.CurrentVersion + 1,
		VersionType:      input.VersionType,
		Title:            title,
		BusinessProblem:  proposed.BusinessProblem,
		Description:      proposed.Description,
		FrameworkTags:    proposed.FrameworkTags,
		CapabilityGroups: proposed.CapabilityGroups,
		Status:           status,
		CreatedBy:        session.UserID,
		CreatedByName:    session.UserName,
		CreatedAt:        now,
	}

	var events []store.OverrideEvent
	if input.VersionType == version.TypeOverride {
		deltas := version.Overrides(version.Snapshot{
			BusinessProblem:  record.BusinessProblem,
			Description:      record.Description,
			FrameworkTags:    record.FrameworkTags,
			CapabilityGroups: record.CapabilityGroups,
		}, proposed)
		for _, delta := range deltas {
			events = append(events, store.OverrideEvent{
				RecordID:         record.ID,
				FieldPath:        delta.FieldPath,
				OriginalValue:    delta.OriginalValue,
				NewValue:         delta.NewValue,
				OverriddenBy:     session.UserID,
				OverriddenByName: session.UserName,
				OverriddenAt:     now,
			})
		}
	}

	if _, err := s.store.AppendVersion(ctx, next, events); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Record was modified concurrently, reload and retry", nil)
		}
		return nil, err
	}

	record.Title = next.Title
	record.BusinessProblem = next.BusinessProblem
	record.Description = next.Description
	record.FrameworkTags = next.FrameworkTags
	record.CapabilityGroups = next.CapabilityGroups
	record.Status = next.Status
	record.CurrentVersion = next.VersionNumber
	s.indexRecord(record)
	return recordPayload(record), nil
}

func (s *Service) GetRecord(ctx context.Context, session Session, recordID string) (map[string]any, error) {
	record, err := s.visibleRecord(ctx, session, recordID)
	if err != nil {
		return nil, err
	}
	return recordPayload(record), nil
}

func (s *Service) ListRecords(ctx context.Context, session Session) ([]map[string]any, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	role := rbac.Normalize(session.Role)
	payload := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if !rbac.CanSeeRecord(role, session.UserID, record.CreatedBy, record.Status) {
			continue
		}
		payload = append(payload, recordPayload(record))
	}
	return payload, nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, recordID string) ([]map[string]any, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, recordID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		payload = append(payload, versionPayload(v))
	}
	return payload, nil
}

func (s *Service) GetVersion(ctx context.Context, session Session, recordID string, versionNumber int) (map[string]any, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return nil, err
	}
	v, err := s.store.GetVersion(ctx, recordID, versionNumber)
	if err != nil {
		return nil, err
	}
	return versionPayload(v), nil
}

// Diff compares two versions of a record field by field. Base and compare
// may be given in either order.
func (s *Service) Diff(ctx context.Context, session Session, recordID string, base, compare int) (map[string]any, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return nil, err
	}
	baseVersion, err := s.store.GetVersion(ctx, recordID, base)
	if err != nil {
		return nil, err
	}
	compareVersion, err := s.store.GetVersion(ctx, recordID, compare)
	if err != nil {
		return nil, err
	}

	fields := version.Diff(snapshotOf(baseVersion), snapshotOf(compareVersion))
	return map[string]any{
		"recordId": recordID,
		"base":     base,
		"compare":  compare,
		"fields":   fields,
	}, nil
}

func snapshotOf(v store.RecordVersion) version.Snapshot {
	return version.Snapshot{
		BusinessProblem:  v.BusinessProblem,
		Description:      v.Description,
		FrameworkTags:    v.FrameworkTags,
		CapabilityGroups: v.CapabilityGroups,
	}
}

func (s *Service) ListOverrides(ctx context.Context, session Session, recordID string) ([]map[string]any, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return nil, err
	}
	events, err := s.store.ListOverrideEvents(ctx, recordID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, map[string]any{
			"id":               event.ID,
			"recordId":         event.RecordID,
			"versionNumber":    event.VersionNumber,
			"fieldPath":        event.FieldPath,
			"originalValue":    event.OriginalValue,
			"newValue":         event.NewValue,
			"overriddenBy":     event.OverriddenBy,
			"overriddenByName": event.OverriddenByName,
			"overriddenAt":     event.OverriddenAt.Format(time.RFC3339),
		})
	}
	return payload, nil
}

func (s *Service) ListComments(ctx context.Context, session Session, recordID string) ([]map[string]any, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, recordID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, commentPayload(comment))
	}
	return payload, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, recordID string, input CommentInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment body is required", nil)
	}
	record, err := s.visibleRecord(ctx, session, recordID)
	if err != nil {
		return nil, err
	}
	role := rbac.Normalize(session.Role)
	if !rbac.CanComment(role, session.UserID, record.CreatedBy, record.Status) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot comment on this record", nil)
	}

	now := version.Now()
	comment := store.Comment{
		ID:         util.NewID("cmt"),
		RecordID:   record.ID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Role:       string(role),
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, recordID, commentID string, input CommentInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment body is required", nil)
	}
	comment, err := s.recordComment(ctx, session, recordID, commentID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanModifyComment(rbac.Normalize(session.Role), session.UserID, comment.AuthorID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot modify this comment", nil)
	}

	updatedAt := version.Now()
	updated, err := s.store.UpdateComment(ctx, commentID, body, updatedAt)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, sql.ErrNoRows
	}
	comment.Body = body
	comment.UpdatedAt = updatedAt
	return commentPayload(comment), nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, recordID, commentID string) error {
	comment, err := s.recordComment(ctx, session, recordID, commentID)
	if err != nil {
		return err
	}
	if !rbac.CanModifyComment(rbac.Normalize(session.Role), session.UserID, comment.AuthorID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "You cannot modify this comment", nil)
	}
	deleted, err := s.store.DeleteComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

// Search runs the configured searcher and strips hits the session may not see.
func (s *Service) Search(_ context.Context, session Session, query search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}, nil
	}
	response := s.search.Search(query)
	role := rbac.Normalize(session.Role)
	visible := make([]search.Result, 0, len(response.Results))
	for _, result := range response.Results {
		if !rbac.CanSeeRecord(role, session.UserID, result.CreatedBy, result.Status) {
			continue
		}
		visible = append(visible, result)
	}
	hidden := len(response.Results) - len(visible)
	response.Results = visible
	response.Total -= hidden
	return response, nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	total, drafts, submitted, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"records":   total,
		"drafts":    drafts,
		"submitted": submitted,
	}, nil
}

// visibleRecord loads a record and applies the visibility gate. Records the
// session may not see surface as not found, so their existence never leaks.
func (s *Service) visibleRecord(ctx context.Context, session Session, recordID string) (store.Record, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return store.Record{}, err
	}
	if !rbac.CanSeeRecord(rbac.Normalize(session.Role), session.UserID, record.CreatedBy, record.Status) {
		return store.Record{}, sql.ErrNoRows
	}
	return record, nil
}

func (s *Service) recordComment(ctx context.Context, session Session, recordID, commentID string) (store.Comment, error) {
	if _, err := s.visibleRecord(ctx, session, recordID); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.RecordID != recordID {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (s *Service) indexRecord(record store.Record) {
	if s.search == nil {
		return
	}
	s.search.IndexRecord(search.RecordDoc{
		ID:               record.ID,
		Title:            record.Title,
		BusinessProblem:  record.BusinessProblem,
		Description:      record.Description,
		FrameworkTags:    record.FrameworkTags,
		CapabilityGroups: record.CapabilityGroups,
		Status:           record.Status,
		CreatedBy:        record.CreatedBy,
	})
}

func recordPayload(record store.Record) map[string]any {
	return map[string]any{
		"id":              record.ID,
		"title":           record.Title,
		"recordType":      record.RecordType,
		"businessProblem": record.BusinessProblem,
		"description":     record.Description,
		"aiMetadata": map[string]any{
			"frameworkTags":    record.FrameworkTags,
			"capabilityGroups": record.CapabilityGroups,
		},
		"status":         record.Status,
		"createdBy":      record.CreatedBy,
		"createdByName":  identity.DisplayName(record.CreatedBy),
		"createdAt":      record.CreatedAt.Format(time.RFC3339),
		"currentVersion": record.CurrentVersion,
	}
}

func versionPayload(v store.RecordVersion) map[string]any {
	return map[string]any{
		"recordId":        v.RecordID,
		"versionNumber":   v.VersionNumber,
		"versionType":     v.VersionType,
		"title":           v.Title,
		"businessProblem": v.BusinessProblem,
		"description":     v.Description,
		"aiMetadata": map[string]any{
			"frameworkTags":    v.FrameworkTags,
			"capabilityGroups": v.CapabilityGroups,
		},
		"status":        v.Status,
		"createdBy":     v.CreatedBy,
		"createdByName": identity.DisplayName(v.CreatedBy),
		"createdAt":     v.CreatedAt.Format(time.RFC3339),
	}
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"recordId":   comment.RecordID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"role":       comment.Role,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt.Format(time.RFC3339),
		"updatedAt":  comment.UpdatedAt.Format(time.RFC3339),
	}
}

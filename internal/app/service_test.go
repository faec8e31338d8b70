package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"intake/api/internal/config"
	"intake/api/internal/identity"
	"intake/api/internal/store"
	"intake/api/internal/version"
)

type fakeStore struct {
	createRecordFn       func(context.Context, store.Record, store.RecordVersion) (int64, error)
	getRecordFn          func(context.Context, string) (store.Record, error)
	listRecordsFn        func(context.Context) ([]store.Record, error)
	countRecordsFn       func(context.Context) (int, error)
	appendVersionFn      func(context.Context, store.RecordVersion, []store.OverrideEvent) (int64, error)
	listVersionsFn       func(context.Context, string) ([]store.RecordVersion, error)
	getVersionFn         func(context.Context, string, int) (store.RecordVersion, error)
	listOverrideEventsFn func(context.Context, string) ([]store.OverrideEvent, error)
	insertCommentFn      func(context.Context, store.Comment) error
	getCommentFn         func(context.Context, string) (store.Comment, error)
	listCommentsFn       func(context.Context, string) ([]store.Comment, error)
	updateCommentFn      func(context.Context, string, string, time.Time) (bool, error)
	deleteCommentFn      func(context.Context, string) (bool, error)
	summaryCountsFn      func(context.Context) (int, int, int, error)
	pingFn               func(context.Context) error
}

func (f *fakeStore) CreateRecord(ctx context.Context, record store.Record, initial store.RecordVersion) (int64, error) {
	if f.createRecordFn != nil {
		return f.createRecordFn(ctx, record, initial)
	}
	return 1, nil
}
func (f *fakeStore) GetRecord(ctx context.Context, recordID string) (store.Record, error) {
	if f.getRecordFn != nil {
		return f.getRecordFn(ctx, recordID)
	}
	return store.Record{}, sql.ErrNoRows
}
func (f *fakeStore) ListRecords(ctx context.Context) ([]store.Record, error) {
	if f.listRecordsFn != nil {
		return f.listRecordsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) CountRecords(ctx context.Context) (int, error) {
	if f.countRecordsFn != nil {
		return f.countRecordsFn(ctx)
	}
	return 0, nil
}
func (f *fakeStore) AppendVersion(ctx context.Context, v store.RecordVersion, events []store.OverrideEvent) (int64, error) {
	if f.appendVersionFn != nil {
		return f.appendVersionFn(ctx, v, events)
	}
	return 1, nil
}
func (f *fakeStore) ListVersions(ctx context.Context, recordID string) ([]store.RecordVersion, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, recordID)
	}
	return nil, nil
}
func (f *fakeStore) GetVersion(ctx context.Context, recordID string, versionNumber int) (store.RecordVersion, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, recordID, versionNumber)
	}
	return store.RecordVersion{}, sql.ErrNoRows
}
func (f *fakeStore) ListOverrideEvents(ctx context.Context, recordID string) ([]store.OverrideEvent, error) {
	if f.listOverrideEventsFn != nil {
		return f.listOverrideEventsFn(ctx, recordID)
	}
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListComments(ctx context.Context, recordID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, recordID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateComment(ctx context.Context, commentID, body string, updatedAt time.Time) (bool, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, commentID, body, updatedAt)
	}
	return true, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID)
	}
	return true, nil
}
func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	if f.summaryCountsFn != nil {
		return f.summaryCountsFn(ctx)
	}
	return 0, 0, 0, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSessions struct {
	saved   map[string]identity.User
	revoked []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]identity.User)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user identity.User, _ time.Time) error {
	f.saved[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (identity.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return identity.User{}, sql.ErrNoRows
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	f.revoked = append(f.revoked, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{JWTSecret: "test-secret", AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour},
		store:    fs,
		sessions: newFakeSessions(),
	}
}

func adminSession() Session {
	return Session{UserID: "user-2", UserName: "OPS Admin", Role: "admin"}
}

func userSession() Session {
	return Session{UserID: "user-1", UserName: "Akshat (User)", Role: "user"}
}

func viewerSession() Session {
	return Session{UserID: "user-3", UserName: "OPS Viewer (Read-only)", Role: "viewer"}
}

func aliceRecord() store.Record {
	return store.Record{
		ID:               "rec_alice",
		Title:            "Fraud Detection in Benefit Claims",
		RecordType:       "ai_use_case",
		BusinessProblem:  "Detect suspicious claims.",
		Description:      "Classification models flag high-risk claims.",
		FrameworkTags:    []string{"nlp"},
		CapabilityGroups: []string{"Fraud Detection"},
		Status:           "submitted",
		CreatedBy:        "user-1",
		CreatedByName:    "Akshat (User)",
		CreatedAt:        time.Now(),
		CurrentVersion:   1,
	}
}

func expectDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("want DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("want %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Login(context.Background(), "user-99")
	expectDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestLoginIssuesSessionForRosterUser(t *testing.T) {
	svc := newTestService(&fakeStore{})

	session, err := svc.Login(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Role != "admin" || session.UserName != "OPS Admin" {
		t.Fatalf("unexpected session: %+v", session)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse session token: %v", err)
	}
	if parsed.UserID != "user-2" || parsed.Role != "admin" {
		t.Fatalf("claims did not round-trip: %+v", parsed)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(&fakeStore{})
	sessions := svc.sessions.(*fakeSessions)

	first, err := svc.Login(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if len(sessions.revoked) != 1 {
		t.Fatalf("old refresh token not revoked: %v", sessions.revoked)
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("stale refresh token must not be accepted")
	}
}

func TestCreateRecordRequiresTitle(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateRecord(context.Background(), userSession(), RecordInput{Title: "   "})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCreateRecordRejectsViewer(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateRecord(context.Background(), viewerSession(), RecordInput{Title: "New use case"})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestCreateRecordParsesTagInputAndStartsAtVersionOne(t *testing.T) {
	var created store.Record
	var initial store.RecordVersion
	fs := &fakeStore{
		createRecordFn: func(_ context.Context, record store.Record, v store.RecordVersion) (int64, error) {
			created = record
			initial = v
			return 1, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateRecord(context.Background(), userSession(), RecordInput{
		Title:            "Churn prediction",
		FrameworkTags:    " nlp, cv ,nlp, ",
		CapabilityGroups: "analytics",
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	if len(created.FrameworkTags) != 2 || created.FrameworkTags[0] != "nlp" || created.FrameworkTags[1] != "cv" {
		t.Fatalf("tag input not parsed: %v", created.FrameworkTags)
	}
	if created.Status != "draft" {
		t.Fatalf("want default status draft, got %q", created.Status)
	}
	if created.CurrentVersion != 1 || initial.VersionNumber != 1 || initial.VersionType != version.TypeEdit {
		t.Fatalf("initial version wrong: record=%d version=%+v", created.CurrentVersion, initial)
	}
	if created.CreatedBy != "user-1" {
		t.Fatalf("owner not taken from session: %q", created.CreatedBy)
	}
}

func TestUpdateRecordRejectsUnknownVersionType(t *testing.T) {
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
	}
	svc := newTestService(fs)

	_, err := svc.UpdateRecord(context.Background(), userSession(), "rec_alice", RecordInput{
		Title:       "Fraud Detection",
		VersionType: "merge",
	})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateRecordEditByNonOwnerForbidden(t *testing.T) {
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
	}
	svc := newTestService(fs)

	other := Session{UserID: "user-9", UserName: "Someone Else", Role: "user"}
	_, err := svc.UpdateRecord(context.Background(), other, "rec_alice", RecordInput{
		Title:       "Fraud Detection",
		VersionType: version.TypeEdit,
	})
	// a user cannot see someone else's record at all
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want not-found for invisible record, got %v", err)
	}
}

func TestUpdateRecordOverrideRequiresAdmin(t *testing.T) {
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
	}
	svc := newTestService(fs)

	_, err := svc.UpdateRecord(context.Background(), userSession(), "rec_alice", RecordInput{
		Title:       "Fraud Detection",
		VersionType: version.TypeOverride,
	})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestUpdateRecordOverrideAuditsOnlyChangedFields(t *testing.T) {
	var appended store.RecordVersion
	var events []store.OverrideEvent
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		appendVersionFn: func(_ context.Context, v store.RecordVersion, evts []store.OverrideEvent) (int64, error) {
			appended = v
			events = evts
			return 2, nil
		},
	}
	svc := newTestService(fs)

	record := aliceRecord()
	_, err := svc.UpdateRecord(context.Background(), adminSession(), record.ID, RecordInput{
		Title:            record.Title,
		BusinessProblem:  record.BusinessProblem,
		Description:      record.Description,
		FrameworkTags:    "nlp, cv",
		CapabilityGroups: "Fraud Detection",
		VersionType:      version.TypeOverride,
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}

	if appended.VersionNumber != 2 || appended.VersionType != version.TypeOverride {
		t.Fatalf("unexpected version: %+v", appended)
	}
	if appended.CreatedBy != "user-2" {
		t.Fatalf("version author must be the overriding admin, got %q", appended.CreatedBy)
	}
	if len(events) != 1 {
		t.Fatalf("want exactly one audit event, got %d", len(events))
	}
	event := events[0]
	if event.FieldPath != "ai_metadata.framework_tags" {
		t.Fatalf("unexpected field path %q", event.FieldPath)
	}
	if len(event.OriginalValue) != 1 || event.OriginalValue[0] != "nlp" {
		t.Fatalf("original value wrong: %v", event.OriginalValue)
	}
	if len(event.NewValue) != 2 || event.NewValue[1] != "cv" {
		t.Fatalf("new value wrong: %v", event.NewValue)
	}
	if event.OverriddenBy != "user-2" {
		t.Fatalf("event actor wrong: %q", event.OverriddenBy)
	}
}

func TestUpdateRecordEditProducesNoAuditEvents(t *testing.T) {
	var events []store.OverrideEvent
	called := false
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		appendVersionFn: func(_ context.Context, _ store.RecordVersion, evts []store.OverrideEvent) (int64, error) {
			called = true
			events = evts
			return 2, nil
		},
	}
	svc := newTestService(fs)

	record := aliceRecord()
	_, err := svc.UpdateRecord(context.Background(), userSession(), record.ID, RecordInput{
		Title:            record.Title,
		BusinessProblem:  "Updated problem statement.",
		FrameworkTags:    "nlp, cv",
		CapabilityGroups: "Fraud Detection",
		VersionType:      version.TypeEdit,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !called {
		t.Fatal("append version was not called")
	}
	if len(events) != 0 {
		t.Fatalf("edits must not write audit events, got %d", len(events))
	}
}

func TestUpdateRecordVersionConflictSurfacesAsValidation(t *testing.T) {
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		appendVersionFn: func(context.Context, store.RecordVersion, []store.OverrideEvent) (int64, error) {
			return 0, store.ErrVersionConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateRecord(context.Background(), adminSession(), "rec_alice", RecordInput{
		Title:       "Fraud Detection",
		VersionType: version.TypeEdit,
	})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestGetRecordHidesDraftsFromViewer(t *testing.T) {
	draft := aliceRecord()
	draft.Status = "draft"
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return draft, nil },
	}
	svc := newTestService(fs)

	_, err := svc.GetRecord(context.Background(), viewerSession(), draft.ID)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("draft must be invisible to viewer, got %v", err)
	}

	if _, err := svc.GetRecord(context.Background(), userSession(), draft.ID); err != nil {
		t.Fatalf("owner must see own draft: %v", err)
	}
}

func TestListRecordsFiltersByVisibility(t *testing.T) {
	ownDraft := aliceRecord()
	ownDraft.ID = "rec_own_draft"
	ownDraft.Status = "draft"

	otherDraft := aliceRecord()
	otherDraft.ID = "rec_other_draft"
	otherDraft.Status = "draft"
	otherDraft.CreatedBy = "admin-seed"

	submitted := aliceRecord()
	submitted.ID = "rec_submitted"
	submitted.CreatedBy = "admin-seed"

	fs := &fakeStore{
		listRecordsFn: func(context.Context) ([]store.Record, error) {
			return []store.Record{ownDraft, otherDraft, submitted}, nil
		},
	}
	svc := newTestService(fs)

	asUser, err := svc.ListRecords(context.Background(), userSession())
	if err != nil {
		t.Fatalf("list as user: %v", err)
	}
	if len(asUser) != 1 || asUser[0]["id"] != "rec_own_draft" {
		t.Fatalf("user must see only own records, got %v", asUser)
	}

	asViewer, err := svc.ListRecords(context.Background(), viewerSession())
	if err != nil {
		t.Fatalf("list as viewer: %v", err)
	}
	if len(asViewer) != 1 || asViewer[0]["id"] != "rec_submitted" {
		t.Fatalf("viewer must see only non-draft records, got %v", asViewer)
	}

	asAdmin, err := svc.ListRecords(context.Background(), adminSession())
	if err != nil {
		t.Fatalf("list as admin: %v", err)
	}
	if len(asAdmin) != 3 {
		t.Fatalf("admin must see everything, got %d", len(asAdmin))
	}
}

func TestDiffComparesTrackedFields(t *testing.T) {
	versions := map[int]store.RecordVersion{
		1: {
			RecordID:         "rec_alice",
			VersionNumber:    1,
			BusinessProblem:  "Detect suspicious claims.",
			FrameworkTags:    []string{"nlp"},
			CapabilityGroups: []string{"Fraud Detection"},
		},
		2: {
			RecordID:         "rec_alice",
			VersionNumber:    2,
			BusinessProblem:  "Detect suspicious claims.",
			FrameworkTags:    []string{"nlp", "cv"},
			CapabilityGroups: []string{"Fraud Detection"},
		},
	}
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		getVersionFn: func(_ context.Context, _ string, n int) (store.RecordVersion, error) {
			v, ok := versions[n]
			if !ok {
				return store.RecordVersion{}, sql.ErrNoRows
			}
			return v, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Diff(context.Background(), adminSession(), "rec_alice", 1, 2)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	fields, ok := payload["fields"].([]version.FieldDiff)
	if !ok {
		t.Fatalf("unexpected fields payload: %T", payload["fields"])
	}
	if len(fields) != 4 {
		t.Fatalf("want 4 compared fields, got %d", len(fields))
	}
	changed := map[string]bool{}
	for _, field := range fields {
		changed[field.Field] = field.Changed
	}
	if !changed["ai_metadata.framework_tags"] {
		t.Fatal("framework tags change not detected")
	}
	if changed["business_problem"] || changed["description"] || changed["ai_metadata.capability_groups"] {
		t.Fatalf("unchanged fields flagged: %v", changed)
	}

	if _, err := svc.Diff(context.Background(), adminSession(), "rec_alice", 1, 9); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("diff against missing version must be not found, got %v", err)
	}
}

func TestAddCommentRejectsViewerAndBlankBody(t *testing.T) {
	fs := &fakeStore{
		getRecordFn: func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
	}
	svc := newTestService(fs)

	_, err := svc.AddComment(context.Background(), viewerSession(), "rec_alice", CommentInput{Body: "Looks risky"})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = svc.AddComment(context.Background(), adminSession(), "rec_alice", CommentInput{Body: "   "})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateCommentOnlyByAuthorOrAdmin(t *testing.T) {
	comment := store.Comment{
		ID:       "cmt_1",
		RecordID: "rec_alice",
		AuthorID: "user-1",
		Body:     "Original",
	}
	fs := &fakeStore{
		getRecordFn:  func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		getCommentFn: func(context.Context, string) (store.Comment, error) { return comment, nil },
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateComment(context.Background(), userSession(), "rec_alice", "cmt_1", CommentInput{Body: "Edited"}); err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if _, err := svc.UpdateComment(context.Background(), adminSession(), "rec_alice", "cmt_1", CommentInput{Body: "Edited by admin"}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}

	_, err := svc.UpdateComment(context.Background(), viewerSession(), "rec_alice", "cmt_1", CommentInput{Body: "Nope"})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestDeleteCommentChecksRecordOwnership(t *testing.T) {
	comment := store.Comment{
		ID:       "cmt_1",
		RecordID: "rec_other",
		AuthorID: "user-1",
	}
	fs := &fakeStore{
		getRecordFn:  func(context.Context, string) (store.Record, error) { return aliceRecord(), nil },
		getCommentFn: func(context.Context, string) (store.Comment, error) { return comment, nil },
	}
	svc := newTestService(fs)

	// comment belongs to a different record than the path names
	err := svc.DeleteComment(context.Background(), adminSession(), "rec_alice", "cmt_1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("mismatched record/comment must be not found, got %v", err)
	}
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidbard/canvas-author/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// statusEval is a trivial EvalFunc for tests that don't care about
// consensus rules: the item takes the latest pass's decision.
func statusEval(item *models.ItemReview) models.ItemStatus {
	if len(item.Passes) == 0 {
		return models.ItemStatusPending
	}
	last := item.Passes[len(item.Passes)-1]
	if last.Decision == models.DecisionApproved {
		return models.ItemStatusApproved
	}
	return models.ItemStatusRejected
}

func newTestSession(t *testing.T, s *SQLiteStore, sessionID string) *models.ReviewSession {
	t.Helper()
	session := &models.ReviewSession{
		SessionID: sessionID,
		CourseID:  "course-42",
		Items: map[string]*models.ItemReview{
			"pages:intro": {ItemID: "pages:intro", ItemTitle: "Introduction", ItemType: "pages"},
		},
	}
	require.NoError(t, s.CreateSession(context.Background(), session))
	return session
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Sessions ---

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")

	got, err := s.GetSession(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.SessionID)
	assert.Equal(t, "course-42", got.CourseID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.Archived())

	require.Len(t, got.Items, 1)
	item := got.Items["pages:intro"]
	require.NotNil(t, item)
	assert.Equal(t, "Introduction", item.ItemTitle)
	assert.Equal(t, "pages", item.ItemType)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Empty(t, item.Passes)
}

func TestCreateSession_DuplicateLiveName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")

	err := s.CreateSession(ctx, &models.ReviewSession{SessionID: "agent-1", CourseID: "course-42"})
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestCreateSession_NameReusableAfterArchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	require.NoError(t, s.ArchiveSession(ctx, "agent-1", "instructor", "abc123"))

	// The archived record stays; a new live session may reuse the name.
	newTestSession(t, s, "agent-1")

	got, err := s.GetSession(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, got.Archived(), "GetSession should resolve the live session")
}

func TestListSessions_FiltersArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	newTestSession(t, s, "agent-2")
	require.NoError(t, s.ArchiveSession(ctx, "agent-1", "instructor", "abc123"))

	live, err := s.ListSessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "agent-2", live[0].SessionID)

	all, err := s.ListSessions(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestArchiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	require.NoError(t, s.ArchiveSession(ctx, "agent-1", "instructor", "abc123"))

	got, err := s.GetSession(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, got.Archived())
	assert.Equal(t, "instructor", got.MergedBy)
	assert.Equal(t, "abc123", got.MergeRef)

	// Exactly once
	err = s.ArchiveSession(ctx, "agent-1", "instructor", "def456")
	assert.ErrorIs(t, err, ErrAlreadyArchived)

	err = s.ArchiveSession(ctx, "missing", "instructor", "abc123")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// --- Passes ---

func TestAppendPass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")

	pass := &models.ReviewPass{
		PassKind:   "style",
		ReviewerID: "alice",
		Decision:   models.DecisionApproved,
		References: []string{"pages:glossary"},
	}
	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}

	item, err := s.AppendPass(ctx, "agent-1", "pages:intro", meta, pass, statusEval)
	require.NoError(t, err)

	assert.NotEmpty(t, pass.ID)
	assert.False(t, pass.SubmittedAt.IsZero())
	assert.Equal(t, models.ItemStatusApproved, item.Status)
	require.Len(t, item.Passes, 1)
	assert.Equal(t, []string{"pages:glossary"}, item.Passes[0].References)

	// Status persisted, not just returned
	got, err := s.GetItem(ctx, "agent-1", "pages:intro")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusApproved, got.Status)
}

func TestAppendPass_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}

	for i, reviewer := range []string{"alice", "bob", "carol"} {
		decision := models.DecisionApproved
		if i == 1 {
			decision = models.DecisionRejected
		}
		_, err := s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
			PassKind:   "style",
			ReviewerID: reviewer,
			Decision:   decision,
			Reasoning:  "r",
		}, statusEval)
		require.NoError(t, err)
	}

	item, err := s.GetItem(ctx, "agent-1", "pages:intro")
	require.NoError(t, err)
	require.Len(t, item.Passes, 3)
	assert.Equal(t, "alice", item.Passes[0].ReviewerID)
	assert.Equal(t, "bob", item.Passes[1].ReviewerID)
	assert.Equal(t, "carol", item.Passes[2].ReviewerID)
}

func TestAppendPass_SessionErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := models.ItemMeta{Type: "pages"}
	pass := &models.ReviewPass{PassKind: "style", ReviewerID: "alice", Decision: models.DecisionApproved}

	_, err := s.AppendPass(ctx, "missing", "pages:intro", meta, pass, statusEval)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	newTestSession(t, s, "agent-1")
	require.NoError(t, s.ArchiveSession(ctx, "agent-1", "instructor", "abc123"))

	_, err = s.AppendPass(ctx, "agent-1", "pages:intro", meta, pass, statusEval)
	assert.ErrorIs(t, err, ErrSessionArchived)
}

func TestAppendPass_ConcurrentNoLostUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
				PassKind:   "style",
				ReviewerID: fmt.Sprintf("reviewer-%d", i),
				Decision:   models.DecisionApproved,
			}, statusEval)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "append %d", i)
	}

	item, err := s.GetItem(ctx, "agent-1", "pages:intro")
	require.NoError(t, err)
	assert.Len(t, item.Passes, n, "every concurrent pass must survive")
}

// --- Escalation ---

func TestEscalateAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")

	esc := &models.Escalation{
		Reason:   "reviewers deadlocked",
		Evidence: []string{"pages:style-guide"},
		RaisedBy: "carol",
		RaisedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Escalate(ctx, "agent-1", "pages:intro", esc))

	item, err := s.GetItem(ctx, "agent-1", "pages:intro")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusEscalationPending, item.Status)
	require.NotNil(t, item.Escalation)
	assert.Equal(t, "reviewers deadlocked", item.Escalation.Reason)
	assert.Equal(t, []string{"pages:style-guide"}, item.Escalation.Evidence)
	assert.False(t, item.Escalation.Resolved())

	// Unknown item
	err = s.Escalate(ctx, "agent-1", "pages:missing", esc)
	assert.ErrorIs(t, err, ErrItemNotFound)

	// A human_override pass resolves the escalation in the same tx.
	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}
	item, err = s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
		PassKind:   models.PassKindHumanOverride,
		ReviewerID: "instructor",
		Decision:   models.DecisionApproved,
	}, statusEval)
	require.NoError(t, err)

	require.NotNil(t, item.Escalation)
	assert.True(t, item.Escalation.Resolved())
	assert.Equal(t, models.ResolutionApproved, item.Escalation.Resolution)
	assert.Equal(t, "instructor", item.Escalation.ResolvedBy)
	assert.NotNil(t, item.Escalation.ResolvedAt)
}

func TestHumanOverrideRejection_ResolvesAsRevise(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	require.NoError(t, s.Escalate(ctx, "agent-1", "pages:intro", &models.Escalation{
		Reason:   "deadlock",
		RaisedBy: "carol",
		RaisedAt: time.Now().UTC(),
	}))

	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}
	item, err := s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
		PassKind:   models.PassKindHumanOverride,
		ReviewerID: "instructor",
		Decision:   models.DecisionRejected,
		Reasoning:  "needs another round",
	}, statusEval)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionRevise, item.Escalation.Resolution)
}

func TestListConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")
	newTestSession(t, s, "agent-2")

	require.NoError(t, s.Escalate(ctx, "agent-1", "pages:intro", &models.Escalation{
		Reason:   "deadlock",
		RaisedBy: "carol",
		RaisedAt: time.Now().UTC(),
	}))

	all, err := s.ListConflicts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "agent-1", all[0].SessionID)
	assert.Equal(t, "pages:intro", all[0].Item.ItemID)

	scoped, err := s.ListConflicts(ctx, "agent-2")
	require.NoError(t, err)
	assert.Empty(t, scoped)

	// Resolution removes the conflict from the list.
	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}
	_, err = s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
		PassKind:   models.PassKindHumanOverride,
		ReviewerID: "instructor",
		Decision:   models.DecisionApproved,
	}, statusEval)
	require.NoError(t, err)

	all, err = s.ListConflicts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

// --- History ---

func TestGetItemHistory_SpansArchivedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := models.ItemMeta{Title: "Introduction", Type: "pages"}

	newTestSession(t, s, "agent-1")
	_, err := s.AppendPass(ctx, "agent-1", "pages:intro", meta, &models.ReviewPass{
		PassKind:   "style",
		ReviewerID: "alice",
		Decision:   models.DecisionApproved,
	}, statusEval)
	require.NoError(t, err)
	require.NoError(t, s.ArchiveSession(ctx, "agent-1", "instructor", "abc123"))

	newTestSession(t, s, "agent-2")
	_, err = s.AppendPass(ctx, "agent-2", "pages:intro", meta, &models.ReviewPass{
		PassKind:   "style",
		ReviewerID: "bob",
		Decision:   models.DecisionRejected,
		Reasoning:  "tone drifted",
	}, statusEval)
	require.NoError(t, err)

	entries, err := s.GetItemHistory(ctx, "pages:intro", true)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Ordered by session creation
	assert.Equal(t, "agent-1", entries[0].SessionID)
	assert.NotNil(t, entries[0].ArchivedAt)
	assert.Equal(t, "abc123", entries[0].MergeRef)
	require.Len(t, entries[0].Item.Passes, 1)
	assert.Equal(t, "alice", entries[0].Item.Passes[0].ReviewerID)

	assert.Equal(t, "agent-2", entries[1].SessionID)
	assert.Nil(t, entries[1].ArchivedAt)

	liveOnly, err := s.GetItemHistory(ctx, "pages:intro", false)
	require.NoError(t, err)
	require.Len(t, liveOnly, 1)
	assert.Equal(t, "agent-2", liveOnly[0].SessionID)
}

func TestGetItem_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "agent-1")

	_, err := s.GetItem(ctx, "agent-1", "pages:missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = s.GetItem(ctx, "missing", "pages:intro")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

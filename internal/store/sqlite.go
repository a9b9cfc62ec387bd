package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lucidbard/canvas-author/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// so concurrent appendPass calls from independent reviewers cannot
	// hit "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.ReviewSession) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Items == nil {
		session.Items = make(map[string]*models.ItemReview)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sessionRowID := newULID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_sessions (id, session_id, course_id, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionRowID, session.SessionID, session.CourseID, session.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("session %s: %w", session.SessionID, ErrSessionExists)
		}
		return fmt.Errorf("create session: %w", err)
	}

	// Items declared at session creation start pending; an unreviewed
	// item blocks the merge until every required pass lands.
	for _, item := range session.Items {
		if item.Status == "" {
			item.Status = models.ItemStatusPending
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_items (id, session_rowid, item_id, item_title, item_type, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			newULID(), sessionRowID, item.ItemID, item.ItemTitle, item.ItemType, string(item.Status),
		)
		if err != nil {
			return fmt.Errorf("create item %s: %w", item.ItemID, err)
		}
	}

	return tx.Commit()
}

// liveSessionRow resolves the non-archived row for a workspace name.
func (s *SQLiteStore) liveSessionRow(ctx context.Context, q queryer, sessionID string) (string, error) {
	var rowID string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM review_sessions WHERE session_id = ? AND archived_at IS NULL`, sessionID,
	).Scan(&rowID)
	if err == sql.ErrNoRows {
		// Distinguish archived from unknown
		var count int
		if cerr := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM review_sessions WHERE session_id = ?`, sessionID,
		).Scan(&count); cerr == nil && count > 0 {
			return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionArchived)
		}
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return rowID, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.ReviewSession, error) {
	// Prefer the live session; fall back to the most recent archived one
	// so audit queries still resolve after merge.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, course_id, created_at, archived_at, merged_by, merge_ref
		FROM review_sessions WHERE session_id = ?
		ORDER BY archived_at IS NULL DESC, created_at DESC LIMIT 1`, sessionID)

	session, rowID, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	items, err := s.loadItems(ctx, rowID)
	if err != nil {
		return nil, err
	}
	session.Items = items
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, includeArchived bool) ([]*models.ReviewSession, error) {
	query := `SELECT id, session_id, course_id, created_at, archived_at, merged_by, merge_ref
		FROM review_sessions`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ReviewSession
	for rows.Next() {
		session, _, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := session.Summary()
	return &summary, nil
}

func (s *SQLiteStore) ArchiveSession(ctx context.Context, sessionID, mergedBy, mergeRef string) error {
	// Single-statement update: the archive record is either fully
	// visible or absent, never partial.
	result, err := s.db.ExecContext(ctx,
		`UPDATE review_sessions SET archived_at = ?, merged_by = ?, merge_ref = ?
		WHERE session_id = ? AND archived_at IS NULL`,
		time.Now().UTC(), mergedBy, mergeRef, sessionID,
	)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		var count int
		if cerr := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM review_sessions WHERE session_id = ?`, sessionID,
		).Scan(&count); cerr == nil && count > 0 {
			return fmt.Errorf("session %s: %w", sessionID, ErrAlreadyArchived)
		}
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// --- Items and passes ---

func (s *SQLiteStore) AppendPass(ctx context.Context, sessionID, itemID string, meta models.ItemMeta, pass *models.ReviewPass, eval EvalFunc) (*models.ItemReview, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sessionRowID, err := s.liveSessionRow(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	// First pass for this item in this session creates the review record.
	itemRowID, err := ensureItem(ctx, tx, sessionRowID, itemID, meta)
	if err != nil {
		return nil, err
	}

	if pass.ID == "" {
		pass.ID = newULID()
	}
	pass.SubmittedAt = time.Now().UTC()

	refsJSON, err := json.Marshal(pass.References)
	if err != nil {
		refsJSON = []byte("[]")
	}

	// Acceptance order is assigned here, inside the transaction, so two
	// concurrent submissions both land with distinct sequence numbers.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_passes (id, item_rowid, seq, pass_kind, reviewer_id, reviewer_role, decision, reasoning, severity, refs, submitted_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM review_passes WHERE item_rowid = ?), ?, ?, ?, ?, ?, ?, ?, ?)`,
		pass.ID, itemRowID, itemRowID,
		pass.PassKind, pass.ReviewerID, pass.ReviewerRole,
		string(pass.Decision), pass.Reasoning, string(pass.Severity),
		string(refsJSON), pass.SubmittedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pass: %w", err)
	}

	// A human_override pass resolves the item's open escalation in the
	// same transaction, so status recomputation below already sees it.
	if pass.PassKind == models.PassKindHumanOverride {
		resolution := models.ResolutionRevise
		if pass.Decision == models.DecisionApproved {
			resolution = models.ResolutionApproved
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE review_items SET escalation_resolution = ?, escalation_resolved_by = ?, escalation_resolved_at = ?
			WHERE id = ? AND escalation_raised_at IS NOT NULL AND escalation_resolution = ''`,
			string(resolution), pass.ReviewerID, pass.SubmittedAt, itemRowID,
		)
		if err != nil {
			return nil, fmt.Errorf("resolve escalation: %w", err)
		}
	}

	item, err := loadItem(ctx, tx, itemRowID)
	if err != nil {
		return nil, err
	}

	item.Status = eval(item)
	if _, err := tx.ExecContext(ctx,
		`UPDATE review_items SET status = ? WHERE id = ?`, string(item.Status), itemRowID,
	); err != nil {
		return nil, fmt.Errorf("update item status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, sessionID, itemID string) (*models.ItemReview, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	item, ok := session.Items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s in session %s: %w", itemID, sessionID, ErrItemNotFound)
	}
	return item, nil
}

func (s *SQLiteStore) Escalate(ctx context.Context, sessionID, itemID string, esc *models.Escalation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sessionRowID, err := s.liveSessionRow(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	evidenceJSON, err := json.Marshal(esc.Evidence)
	if err != nil {
		evidenceJSON = []byte("[]")
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE review_items SET
			status = ?,
			escalation_reason = ?, escalation_evidence = ?,
			escalation_raised_by = ?, escalation_raised_at = ?,
			escalation_resolution = '', escalation_resolved_by = '', escalation_resolved_at = NULL
		WHERE session_rowid = ? AND item_id = ?`,
		string(models.ItemStatusEscalationPending),
		esc.Reason, string(evidenceJSON), esc.RaisedBy, esc.RaisedAt,
		sessionRowID, itemID,
	)
	if err != nil {
		return fmt.Errorf("escalate item: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item %s in session %s: %w", itemID, sessionID, ErrItemNotFound)
	}

	return tx.Commit()
}

// --- Cross-session queries ---

func (s *SQLiteStore) GetItemHistory(ctx context.Context, itemID string, includeArchived bool) ([]*models.HistoryEntry, error) {
	query := `SELECT i.id, s.session_id, s.created_at, s.archived_at, s.merged_by, s.merge_ref
		FROM review_items i
		JOIN review_sessions s ON s.id = i.session_rowid
		WHERE i.item_id = ?`
	if !includeArchived {
		query += ` AND s.archived_at IS NULL`
	}
	query += ` ORDER BY s.created_at`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("item history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type entryRow struct {
		itemRowID string
		entry     *models.HistoryEntry
	}
	var entryRows []entryRow
	for rows.Next() {
		var itemRowID, mergedBy, mergeRef, sessionName string
		var createdAt time.Time
		var archivedAt sql.NullTime
		if err := rows.Scan(&itemRowID, &sessionName, &createdAt, &archivedAt, &mergedBy, &mergeRef); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry := &models.HistoryEntry{
			SessionID: sessionName,
			CreatedAt: createdAt,
			MergedBy:  mergedBy,
			MergeRef:  mergeRef,
		}
		if archivedAt.Valid {
			t := archivedAt.Time
			entry.ArchivedAt = &t
		}
		entryRows = append(entryRows, entryRow{itemRowID: itemRowID, entry: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var entries []*models.HistoryEntry
	for _, er := range entryRows {
		item, err := loadItem(ctx, s.db, er.itemRowID)
		if err != nil {
			return nil, err
		}
		er.entry.Item = item
		entries = append(entries, er.entry)
	}
	return entries, nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, sessionID string) ([]*models.HistoryEntry, error) {
	query := `SELECT i.id, s.session_id, s.created_at, s.archived_at, s.merged_by, s.merge_ref
		FROM review_items i
		JOIN review_sessions s ON s.id = i.session_rowid
		WHERE i.escalation_raised_at IS NOT NULL AND i.escalation_resolution = ''`
	var args []any
	if sessionID != "" {
		query += ` AND s.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY s.created_at, i.item_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type entryRow struct {
		itemRowID string
		entry     *models.HistoryEntry
	}
	var entryRows []entryRow
	for rows.Next() {
		var itemRowID, mergedBy, mergeRef, sessionName string
		var createdAt time.Time
		var archivedAt sql.NullTime
		if err := rows.Scan(&itemRowID, &sessionName, &createdAt, &archivedAt, &mergedBy, &mergeRef); err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}
		entry := &models.HistoryEntry{
			SessionID: sessionName,
			CreatedAt: createdAt,
			MergedBy:  mergedBy,
			MergeRef:  mergeRef,
		}
		if archivedAt.Valid {
			t := archivedAt.Time
			entry.ArchivedAt = &t
		}
		entryRows = append(entryRows, entryRow{itemRowID: itemRowID, entry: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var entries []*models.HistoryEntry
	for _, er := range entryRows {
		item, err := loadItem(ctx, s.db, er.itemRowID)
		if err != nil {
			return nil, err
		}
		er.entry.Item = item
		entries = append(entries, er.entry)
	}
	return entries, nil
}

// --- Scanning helpers ---

// queryer abstracts *sql.DB and *sql.Tx for shared loaders.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ReviewSession, string, error) {
	session := &models.ReviewSession{Items: make(map[string]*models.ItemReview)}
	var rowID string
	var archivedAt sql.NullTime

	err := row.Scan(&rowID, &session.SessionID, &session.CourseID,
		&session.CreatedAt, &archivedAt, &session.MergedBy, &session.MergeRef)
	if err != nil {
		return nil, "", err
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		session.ArchivedAt = &t
	}
	return session, rowID, nil
}

func ensureItem(ctx context.Context, tx *sql.Tx, sessionRowID, itemID string, meta models.ItemMeta) (string, error) {
	var itemRowID string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM review_items WHERE session_rowid = ? AND item_id = ?`,
		sessionRowID, itemID,
	).Scan(&itemRowID)
	if err == nil {
		return itemRowID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup item: %w", err)
	}

	itemRowID = newULID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_items (id, session_rowid, item_id, item_title, item_type, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		itemRowID, sessionRowID, itemID, meta.Title, meta.Type, string(models.ItemStatusPending),
	)
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	return itemRowID, nil
}

func loadItem(ctx context.Context, q queryer, itemRowID string) (*models.ItemReview, error) {
	item := &models.ItemReview{}
	var status, escReason, escEvidence, escRaisedBy, escResolution, escResolvedBy string
	var escRaisedAt, escResolvedAt sql.NullTime

	err := q.QueryRowContext(ctx,
		`SELECT item_id, item_title, item_type, status,
			escalation_reason, escalation_evidence, escalation_raised_by, escalation_raised_at,
			escalation_resolution, escalation_resolved_by, escalation_resolved_at
		FROM review_items WHERE id = ?`, itemRowID,
	).Scan(&item.ItemID, &item.ItemTitle, &item.ItemType, &status,
		&escReason, &escEvidence, &escRaisedBy, &escRaisedAt,
		&escResolution, &escResolvedBy, &escResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}

	item.Status = models.ItemStatus(status)
	if escRaisedAt.Valid {
		esc := &models.Escalation{
			Reason:     escReason,
			RaisedBy:   escRaisedBy,
			RaisedAt:   escRaisedAt.Time,
			Resolution: models.EscalationResolution(escResolution),
			ResolvedBy: escResolvedBy,
		}
		_ = json.Unmarshal([]byte(escEvidence), &esc.Evidence)
		if escResolvedAt.Valid {
			t := escResolvedAt.Time
			esc.ResolvedAt = &t
		}
		item.Escalation = esc
	}

	passes, err := loadPasses(ctx, q, itemRowID)
	if err != nil {
		return nil, err
	}
	item.Passes = passes
	return item, nil
}

func loadPasses(ctx context.Context, q queryer, itemRowID string) ([]models.ReviewPass, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, pass_kind, reviewer_id, reviewer_role, decision, reasoning, severity, refs, submitted_at
		FROM review_passes WHERE item_rowid = ? ORDER BY seq`, itemRowID)
	if err != nil {
		return nil, fmt.Errorf("load passes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var passes []models.ReviewPass
	for rows.Next() {
		var p models.ReviewPass
		var decision, severity, refsJSON string
		if err := rows.Scan(&p.ID, &p.PassKind, &p.ReviewerID, &p.ReviewerRole,
			&decision, &p.Reasoning, &severity, &refsJSON, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		p.Decision = models.ReviewDecision(decision)
		p.Severity = models.Severity(severity)
		_ = json.Unmarshal([]byte(refsJSON), &p.References)
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

func (s *SQLiteStore) loadItems(ctx context.Context, sessionRowID string) (map[string]*models.ItemReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM review_items WHERE session_rowid = ? ORDER BY item_id`, sessionRowID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	var itemRowIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		itemRowIDs = append(itemRowIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	items := make(map[string]*models.ItemReview, len(itemRowIDs))
	for _, rowID := range itemRowIDs {
		item, err := loadItem(ctx, s.db, rowID)
		if err != nil {
			return nil, err
		}
		items[item.ItemID] = item
	}
	return items, nil
}

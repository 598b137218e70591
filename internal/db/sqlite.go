package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/david/bid-tracker/internal/identity"
	"github.com/david/bid-tracker/internal/models"
)

// timestampLayout sorts lexically, which run history ordering relies on.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. It is the default local backend.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas are applied by the driver to every connection it opens.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A single connection serializes writers, which makes each transaction atomic per record.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: connect")
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return applySQLiteMigrations(ctx, s.db)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

// sqlExecer is implemented by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatDay(t time.Time) string {
	return models.Day(t).Format(models.DateLayout)
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse date %q", s)
	}
	return t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
	}
	return t, nil
}

func scanSQLiteOpportunity(row scannable) (models.Opportunity, error) {
	var o models.Opportunity
	var provenance, presence, decision, first, last string
	err := row.Scan(
		&o.ID, &o.Organization, &o.OpportunityNumber, &o.Title, &o.DueDate, &o.Link, &o.Info, &o.WorkType,
		&provenance, &first, &last, &presence, &decision, &o.Notes,
		&o.TitleManuallyEdited, &o.DueDateManuallyEdited,
	)
	if err != nil {
		return o, err
	}
	o.Provenance = models.Provenance(provenance)
	o.Presence = models.Presence(presence)
	o.Decision = models.Decision(decision)
	if o.FirstObserved, err = parseDay(first); err != nil {
		return o, err
	}
	if o.LastObserved, err = parseDay(last); err != nil {
		return o, err
	}
	return o, nil
}

func sqliteGet(ctx context.Context, q sqlExecer, id string) (*models.Opportunity, error) {
	o, err := scanSQLiteOpportunity(q.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM opportunities WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get opportunity %s", id)
	}
	return &o, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Opportunity, error) {
	return sqliteGet(ctx, s.db, id)
}

func (s *SQLiteStore) UpsertFromIngestion(ctx context.Context, c models.Candidate) (models.MergeResult, error) {
	id := identity.Derive(c.Organization, c.OpportunityNumber)
	today := models.Day(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.MergeResult{}, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := sqliteGet(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		o := models.NewFromCandidate(c, today)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opportunities (id, organization, opportunity_number, title, due_date, link, info,
				work_type, provenance, first_observed, last_observed, presence, decision, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Organization, o.OpportunityNumber, o.Title, o.DueDate, o.Link, o.Info,
			o.WorkType, string(o.Provenance), formatDay(o.FirstObserved), formatDay(o.LastObserved),
			string(o.Presence), string(o.Decision), formatTimestamp(s.now()),
		); err != nil {
			return models.MergeResult{}, eris.Wrapf(err, "sqlite: insert opportunity %s", id)
		}
		if err := sqliteInsertRevision(ctx, tx, models.RevisionOf(id, c, today)); err != nil {
			return models.MergeResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return models.MergeResult{}, eris.Wrap(err, "sqlite: commit upsert")
		}
		return models.MergeResult{ID: id, Created: true, ObservedChange: true}, nil
	}
	if err != nil {
		return models.MergeResult{}, err
	}

	merged, res := models.Merge(*existing, c, today)
	if _, err := tx.ExecContext(ctx, `
		UPDATE opportunities SET title = ?, due_date = ?, link = ?, info = ?, work_type = ?,
			provenance = ?, last_observed = ?, presence = ?, updated_at = ?
		WHERE id = ?`,
		merged.Title, merged.DueDate, merged.Link, merged.Info, merged.WorkType,
		string(merged.Provenance), formatDay(merged.LastObserved), string(merged.Presence),
		formatTimestamp(s.now()), id,
	); err != nil {
		return models.MergeResult{}, eris.Wrapf(err, "sqlite: update opportunity %s", id)
	}
	if res.ObservedChange {
		if err := sqliteInsertRevision(ctx, tx, models.RevisionOf(id, c, today)); err != nil {
			return models.MergeResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.MergeResult{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	return res, nil
}

func sqliteInsertRevision(ctx context.Context, q sqlExecer, r models.Revision) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO opportunity_revisions (opportunity_id, observed_on, opportunity_number, title, due_date, link)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.OpportunityID, formatDay(r.ObservedOn), r.OpportunityNumber, r.Title, r.DueDate, r.Link,
	)
	return eris.Wrapf(err, "sqlite: insert revision %s", r.OpportunityID)
}

func (s *SQLiteStore) ApplyUserDecision(ctx context.Context, id, decision, notes string) error {
	d, ok := models.ParseDecision(decision)
	if !ok {
		return eris.Wrapf(ErrInvalidDecision, "decision %q", decision)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin decision")
	}
	defer tx.Rollback() //nolint:errcheck

	var current, currentNotes string
	err = tx.QueryRowContext(ctx, `SELECT decision, notes FROM opportunities WHERE id = ?`, id).
		Scan(&current, &currentNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load decision %s", id)
	}
	if current == string(d) && currentNotes == notes {
		return nil
	}

	now := formatTimestamp(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE opportunities SET decision = ?, notes = ?, updated_at = ? WHERE id = ?`,
		string(d), notes, now, id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update decision %s", id)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decision_log (opportunity_id, decision, notes, decided_at) VALUES (?, ?, ?, ?)`,
		id, string(d), notes, now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: log decision %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit decision")
}

func (s *SQLiteStore) ApplyManualEdit(ctx context.Context, id string, edit models.ManualEdit) (*models.Opportunity, error) {
	if edit.Empty() {
		return nil, ErrEmptyEdit
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin manual edit")
	}
	defer tx.Rollback() //nolint:errcheck

	set := "updated_at = ?"
	args := []any{formatTimestamp(s.now())}
	if edit.Title != nil {
		set += ", title = ?, title_manually_edited = 1"
		args = append(args, *edit.Title)
	}
	if edit.DueDate != nil {
		set += ", due_date = ?, due_date_manually_edited = 1"
		args = append(args, *edit.DueDate)
	}
	args = append(args, id)

	res, err := tx.ExecContext(ctx, `UPDATE opportunities SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: manual edit %s", id)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return nil, ErrNotFound
	}

	o, err := sqliteGet(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return o, eris.Wrap(tx.Commit(), "sqlite: commit manual edit")
}

func (s *SQLiteStore) MarkAbsent(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE opportunities SET presence = 'disappeared', updated_at = ?
		WHERE presence = 'active' AND last_observed < ?`,
		formatTimestamp(s.now()), formatDay(asOf),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark absent")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) Query(ctx context.Context, f QueryFilter) ([]models.Opportunity, error) {
	where := "WHERE 1=1"
	var args []any
	if f.Presence != "" {
		where += " AND presence = ?"
		args = append(args, string(f.Presence))
	}
	if f.Decision != "" {
		where += " AND decision = ?"
		args = append(args, string(f.Decision))
	}
	if f.Organization != "" {
		where += " AND LOWER(organization) = LOWER(?)"
		args = append(args, f.Organization)
	}
	args = append(args, f.limit(), f.offset())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM opportunities `+where+` ORDER BY last_observed DESC, id LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query opportunities")
	}
	defer rows.Close()

	out := []models.Opportunity{}
	for rows.Next() {
		o, err := scanSQLiteOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate opportunities")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, presence, COUNT(*) FROM opportunities GROUP BY decision, presence`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var decision, presence string
		var n int
		if err := rows.Scan(&decision, &presence, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.add(decision, presence, n)
	}
	return st.Stats, eris.Wrap(rows.Err(), "sqlite: iterate stats")
}

func (s *SQLiteStore) DecisionLog(ctx context.Context, id string) ([]models.DecisionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opportunity_id, decision, notes, decided_at FROM decision_log
		WHERE opportunity_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decision log %s", id)
	}
	defer rows.Close()

	out := []models.DecisionEntry{}
	for rows.Next() {
		var e models.DecisionEntry
		var decision, decidedAt string
		if err := rows.Scan(&e.OpportunityID, &decision, &e.Notes, &decidedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		e.Decision = models.Decision(decision)
		if e.DecidedOn, err = parseTimestamp(decidedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate decisions")
}

func (s *SQLiteStore) Revisions(ctx context.Context, id string) ([]models.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opportunity_id, observed_on, opportunity_number, title, due_date, link
		FROM opportunity_revisions WHERE opportunity_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: revisions %s", id)
	}
	defer rows.Close()

	out := []models.Revision{}
	for rows.Next() {
		var r models.Revision
		var observed string
		if err := rows.Scan(&r.OpportunityID, &observed, &r.OpportunityNumber, &r.Title, &r.DueDate, &r.Link); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan revision")
		}
		if r.ObservedOn, err = parseDay(observed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate revisions")
}

func (s *SQLiteStore) AppendRunRecord(ctx context.Context, rec models.RunRecord, retain int) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run record")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin run record")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_history (id, started_at, finished_at, total_records, record)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), formatTimestamp(rec.StartedAt), formatTimestamp(rec.FinishedAt),
		rec.TotalRecords, string(payload),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run record %s", rec.ID)
	}
	if retain > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM run_history WHERE id NOT IN (
				SELECT id FROM run_history ORDER BY finished_at DESC, rowid DESC LIMIT ?
			)`, retain,
		); err != nil {
			return eris.Wrap(err, "sqlite: trim run history")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit run record")
}

func (s *SQLiteStore) ListRunRecords(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM run_history ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run records")
	}
	defer rows.Close()

	out := []models.RunRecord{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run record")
		}
		var rec models.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode run record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate run records")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (models.Checkpoint, error) {
	cp := models.EmptyCheckpoint()
	var status string
	var startedOn, updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_index, last_source, last_count, status, started_on, updated_at
		FROM run_checkpoint WHERE id = 1`,
	).Scan(&cp.LastIndex, &cp.LastSource, &cp.LastCount, &status, &startedOn, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, eris.Wrap(err, "sqlite: load checkpoint")
	}
	cp.Status = models.CheckpointStatus(status)
	if startedOn.Valid && startedOn.String != "" {
		if cp.StartedOn, err = parseDay(startedOn.String); err != nil {
			return cp, err
		}
	}
	if updatedAt.Valid && updatedAt.String != "" {
		if cp.UpdatedAt, err = parseTimestamp(updatedAt.String); err != nil {
			return cp, err
		}
	}
	return cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	var startedOn, updatedAt sql.NullString
	if !cp.StartedOn.IsZero() {
		startedOn = sql.NullString{String: formatDay(cp.StartedOn), Valid: true}
	}
	if !cp.UpdatedAt.IsZero() {
		updatedAt = sql.NullString{String: formatTimestamp(cp.UpdatedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoint (id, last_index, last_source, last_count, status, started_on, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_index = excluded.last_index,
			last_source = excluded.last_source,
			last_count = excluded.last_count,
			status = excluded.status,
			started_on = excluded.started_on,
			updated_at = excluded.updated_at`,
		cp.LastIndex, cp.LastSource, cp.LastCount, string(cp.Status), startedOn, updatedAt,
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

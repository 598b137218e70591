package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/david/bid-tracker/internal/identity"
	"github.com/david/bid-tracker/internal/models"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// pgQuerier is implemented by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

func NewPostgresStore(pool Pool, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, now: o.now}
}

// selectCols is the column list shared by every opportunity read.
const selectCols = `id, organization, opportunity_number, title, due_date, link, info, work_type,
	provenance, first_observed, last_observed, presence, decision, notes,
	title_manually_edited, due_date_manually_edited`

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	var provenance, presence, decision string
	err := scan(
		&o.ID, &o.Organization, &o.OpportunityNumber, &o.Title, &o.DueDate, &o.Link, &o.Info, &o.WorkType,
		&provenance, &o.FirstObserved, &o.LastObserved, &presence, &decision, &o.Notes,
		&o.TitleManuallyEdited, &o.DueDateManuallyEdited,
	)
	if err != nil {
		return o, err
	}
	o.Provenance = models.Provenance(provenance)
	o.Presence = models.Presence(presence)
	o.Decision = models.Decision(decision)
	o.FirstObserved = models.Day(o.FirstObserved)
	o.LastObserved = models.Day(o.LastObserved)
	return o, nil
}

func pgGet(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*models.Opportunity, error) {
	sql := `SELECT ` + selectCols + ` FROM opportunities WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOpportunity(q.QueryRow(ctx, sql, id).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get opportunity %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Opportunity, error) {
	return pgGet(ctx, s.pool, id, false)
}

func (s *PostgresStore) UpsertFromIngestion(ctx context.Context, c models.Candidate) (models.MergeResult, error) {
	id := identity.Derive(c.Organization, c.OpportunityNumber)
	today := models.Day(s.now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.MergeResult{}, eris.Wrap(err, "postgres: begin upsert")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := pgGet(ctx, tx, id, true)
	if errors.Is(err, ErrNotFound) {
		o := models.NewFromCandidate(c, today)
		tag, insertErr := tx.Exec(ctx, `
			INSERT INTO opportunities (id, organization, opportunity_number, title, due_date, link, info,
				work_type, provenance, first_observed, last_observed, presence, decision)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, o.Organization, o.OpportunityNumber, o.Title, o.DueDate, o.Link, o.Info,
			o.WorkType, string(o.Provenance), o.FirstObserved, o.LastObserved, string(o.Presence), string(o.Decision),
		)
		if insertErr != nil {
			return models.MergeResult{}, eris.Wrapf(insertErr, "postgres: insert opportunity %s", id)
		}
		if tag.RowsAffected() == 1 {
			if err := pgInsertRevision(ctx, tx, models.RevisionOf(id, c, today)); err != nil {
				return models.MergeResult{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return models.MergeResult{}, eris.Wrap(err, "postgres: commit upsert")
			}
			return models.MergeResult{ID: id, Created: true, ObservedChange: true}, nil
		}
		// Lost an insert race; the row is committed now, so merge into it.
		existing, err = pgGet(ctx, tx, id, true)
	}
	if err != nil {
		return models.MergeResult{}, err
	}

	merged, res := models.Merge(*existing, c, today)
	if _, err := tx.Exec(ctx, `
		UPDATE opportunities SET title = $2, due_date = $3, link = $4, info = $5, work_type = $6,
			provenance = $7, last_observed = $8, presence = $9, updated_at = NOW()
		WHERE id = $1`,
		id, merged.Title, merged.DueDate, merged.Link, merged.Info, merged.WorkType,
		string(merged.Provenance), merged.LastObserved, string(merged.Presence),
	); err != nil {
		return models.MergeResult{}, eris.Wrapf(err, "postgres: update opportunity %s", id)
	}
	if res.ObservedChange {
		if err := pgInsertRevision(ctx, tx, models.RevisionOf(id, c, today)); err != nil {
			return models.MergeResult{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.MergeResult{}, eris.Wrap(err, "postgres: commit upsert")
	}
	return res, nil
}

func pgInsertRevision(ctx context.Context, q pgQuerier, r models.Revision) error {
	_, err := q.Exec(ctx, `
		INSERT INTO opportunity_revisions (opportunity_id, observed_on, opportunity_number, title, due_date, link)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.OpportunityID, r.ObservedOn, r.OpportunityNumber, r.Title, r.DueDate, r.Link,
	)
	return eris.Wrapf(err, "postgres: insert revision %s", r.OpportunityID)
}

func (s *PostgresStore) ApplyUserDecision(ctx context.Context, id, decision, notes string) error {
	d, ok := models.ParseDecision(decision)
	if !ok {
		return eris.Wrapf(ErrInvalidDecision, "decision %q", decision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin decision")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current, currentNotes string
	err = tx.QueryRow(ctx, `SELECT decision, notes FROM opportunities WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &currentNotes)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load decision %s", id)
	}
	if current == string(d) && currentNotes == notes {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE opportunities SET decision = $2, notes = $3, updated_at = NOW() WHERE id = $1`,
		id, string(d), notes,
	); err != nil {
		return eris.Wrapf(err, "postgres: update decision %s", id)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO decision_log (opportunity_id, decision, notes, decided_at) VALUES ($1, $2, $3, $4)`,
		id, string(d), notes, s.now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: log decision %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit decision")
}

func (s *PostgresStore) ApplyManualEdit(ctx context.Context, id string, edit models.ManualEdit) (*models.Opportunity, error) {
	if edit.Empty() {
		return nil, ErrEmptyEdit
	}

	set := "updated_at = NOW()"
	args := []any{id}
	if edit.Title != nil {
		args = append(args, *edit.Title)
		set += fmt.Sprintf(", title = $%d, title_manually_edited = TRUE", len(args))
	}
	if edit.DueDate != nil {
		args = append(args, *edit.DueDate)
		set += fmt.Sprintf(", due_date = $%d, due_date_manually_edited = TRUE", len(args))
	}

	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`UPDATE opportunities SET `+set+` WHERE id = $1 RETURNING `+selectCols, args...,
	).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: manual edit %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) MarkAbsent(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET presence = 'disappeared', updated_at = NOW()
		WHERE presence = 'active' AND last_observed < $1`,
		models.Day(asOf),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark absent")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Query(ctx context.Context, f QueryFilter) ([]models.Opportunity, error) {
	where := "WHERE 1=1"
	var args []any
	if f.Presence != "" {
		args = append(args, string(f.Presence))
		where += fmt.Sprintf(" AND presence = $%d", len(args))
	}
	if f.Decision != "" {
		args = append(args, string(f.Decision))
		where += fmt.Sprintf(" AND decision = $%d", len(args))
	}
	if f.Organization != "" {
		args = append(args, f.Organization)
		where += fmt.Sprintf(" AND LOWER(organization) = LOWER($%d)", len(args))
	}
	args = append(args, f.limit(), f.offset())
	sql := fmt.Sprintf(`SELECT %s FROM opportunities %s ORDER BY last_observed DESC, id LIMIT $%d OFFSET $%d`,
		selectCols, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query opportunities")
	}
	defer rows.Close()

	out := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate opportunities")
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT decision, presence, COUNT(*) FROM opportunities GROUP BY decision, presence`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var decision, presence string
		var n int
		if err := rows.Scan(&decision, &presence, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.add(decision, presence, n)
	}
	return st.Stats, eris.Wrap(rows.Err(), "postgres: iterate stats")
}

func (s *PostgresStore) DecisionLog(ctx context.Context, id string) ([]models.DecisionEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT opportunity_id, decision, notes, decided_at FROM decision_log
		WHERE opportunity_id = $1 ORDER BY decided_at, id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: decision log %s", id)
	}
	defer rows.Close()

	out := []models.DecisionEntry{}
	for rows.Next() {
		var e models.DecisionEntry
		var decision string
		if err := rows.Scan(&e.OpportunityID, &decision, &e.Notes, &e.DecidedOn); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		e.Decision = models.Decision(decision)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate decisions")
}

func (s *PostgresStore) Revisions(ctx context.Context, id string) ([]models.Revision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT opportunity_id, observed_on, opportunity_number, title, due_date, link
		FROM opportunity_revisions WHERE opportunity_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: revisions %s", id)
	}
	defer rows.Close()

	out := []models.Revision{}
	for rows.Next() {
		var r models.Revision
		if err := rows.Scan(&r.OpportunityID, &r.ObservedOn, &r.OpportunityNumber, &r.Title, &r.DueDate, &r.Link); err != nil {
			return nil, eris.Wrap(err, "postgres: scan revision")
		}
		r.ObservedOn = models.Day(r.ObservedOn)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate revisions")
}

func (s *PostgresStore) AppendRunRecord(ctx context.Context, rec models.RunRecord, retain int) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run record")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin run record")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO run_history (id, started_at, finished_at, total_records, record)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.StartedAt, rec.FinishedAt, rec.TotalRecords, payload,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run record %s", rec.ID)
	}
	if retain > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM run_history WHERE id NOT IN (
				SELECT id FROM run_history ORDER BY finished_at DESC LIMIT $1
			)`, retain,
		); err != nil {
			return eris.Wrap(err, "postgres: trim run history")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit run record")
}

func (s *PostgresStore) ListRunRecords(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM run_history ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run records")
	}
	defer rows.Close()

	out := []models.RunRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run record")
		}
		var rec models.RunRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: decode run record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate run records")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context) (models.Checkpoint, error) {
	cp := models.EmptyCheckpoint()
	var status string
	var startedOn, updatedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT last_index, last_source, last_count, status, started_on, updated_at
		FROM run_checkpoint WHERE id = 1`,
	).Scan(&cp.LastIndex, &cp.LastSource, &cp.LastCount, &status, &startedOn, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, eris.Wrap(err, "postgres: load checkpoint")
	}
	cp.Status = models.CheckpointStatus(status)
	if startedOn != nil {
		cp.StartedOn = models.Day(*startedOn)
	}
	if updatedAt != nil {
		cp.UpdatedAt = updatedAt.UTC()
	}
	return cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	var startedOn, updatedAt *time.Time
	if !cp.StartedOn.IsZero() {
		d := models.Day(cp.StartedOn)
		startedOn = &d
	}
	if !cp.UpdatedAt.IsZero() {
		updatedAt = &cp.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_checkpoint (id, last_index, last_source, last_count, status, started_on, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_index = EXCLUDED.last_index,
			last_source = EXCLUDED.last_source,
			last_count = EXCLUDED.last_count,
			status = EXCLUDED.status,
			started_on = EXCLUDED.started_on,
			updated_at = EXCLUDED.updated_at`,
		cp.LastIndex, cp.LastSource, cp.LastCount, string(cp.Status), startedOn, updatedAt,
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

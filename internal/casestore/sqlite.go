package casestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/roster-validator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id                TEXT PRIMARY KEY,
	record_type       TEXT NOT NULL,
	headers           TEXT NOT NULL,
	mappings          TEXT NOT NULL,
	outcome           TEXT NOT NULL,
	auto_approved     INTEGER NOT NULL DEFAULT 0,
	human_corrections INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS header_mappings (
	record_type TEXT NOT NULL,
	header_key  TEXT NOT NULL,
	field       TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (record_type, header_key)
);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id           TEXT PRIMARY KEY,
	code         TEXT NOT NULL,
	conditions   TEXT NOT NULL,
	effect       TEXT NOT NULL,
	description  TEXT NOT NULL,
	source_cases TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fix_outcomes (
	code       TEXT PRIMARY KEY,
	attempts   INTEGER NOT NULL DEFAULT 0,
	successes  INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
CREATE INDEX IF NOT EXISTS idx_learned_patterns_code ON learned_patterns(code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCase(ctx context.Context, c model.Case) error {
	c, err := prepareCase(c)
	if err != nil {
		return err
	}
	headers, mappings, outcome, err := marshalCase(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal case")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, record_type, headers, mappings, outcome, auto_approved, human_corrections, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			record_type = excluded.record_type,
			headers = excluded.headers,
			mappings = excluded.mappings,
			outcome = excluded.outcome,
			auto_approved = excluded.auto_approved,
			human_corrections = excluded.human_corrections,
			created_at = excluded.created_at`,
		c.ID, string(c.RecordType), headers, mappings, outcome,
		c.Outcome.AutoApproved, c.Outcome.HumanCorrections, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert case %s", c.ID)
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, record_type, headers, mappings, outcome, created_at FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get case %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) FindSimilarCases(ctx context.Context, headers []string, minOverlap float64, limit int) ([]model.CaseMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_type, headers, mappings, outcome, created_at FROM cases ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cases")
	}
	defer rows.Close() //nolint:errcheck

	var all []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case")
		}
		all = append(all, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate cases")
	}
	return rankMatches(all, headers, minOverlap, limit), nil
}

func (s *SQLiteStore) UpsertHeaderMapping(ctx context.Context, rt model.RecordType, header, field string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO header_mappings (record_type, header_key, field, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(record_type, header_key) DO UPDATE SET field = excluded.field, updated_at = excluded.updated_at`,
		string(rt), HeaderKey(header), field, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert header mapping %q", header)
}

func (s *SQLiteStore) LookupHeader(ctx context.Context, rt model.RecordType, header string) (string, bool, error) {
	var field string
	err := s.db.QueryRowContext(ctx,
		`SELECT field FROM header_mappings WHERE record_type = ? AND header_key = ?`,
		string(rt), HeaderKey(header),
	).Scan(&field)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup header %q", header)
	}
	return field, true, nil
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, p model.LearnedPattern) error {
	p, err := preparePattern(p)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin pattern upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanPattern(tx.QueryRowContext(ctx,
		`SELECT id, code, conditions, effect, description, source_cases, created_at, updated_at
		 FROM learned_patterns WHERE id = ?`, p.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return eris.Wrapf(err, "sqlite: read pattern %s", p.ID)
	default:
		p = mergePattern(*existing, p)
	}

	conds, effect, sources, err := marshalPattern(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pattern")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO learned_patterns (id, code, conditions, effect, description, source_cases, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			conditions = excluded.conditions,
			effect = excluded.effect,
			description = excluded.description,
			source_cases = excluded.source_cases,
			updated_at = excluded.updated_at`,
		p.ID, p.Code, conds, effect, p.Description, sources, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert pattern %s", p.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit pattern upsert")
}

func (s *SQLiteStore) ListPatterns(ctx context.Context) ([]model.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, conditions, effect, description, source_cases, created_at, updated_at
		 FROM learned_patterns ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query patterns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearnedPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate patterns")
}

func (s *SQLiteStore) RecordFixOutcome(ctx context.Context, code string, success bool) error {
	inc := 0
	if success {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fix_outcomes (code, attempts, successes, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET
			attempts = fix_outcomes.attempts + 1,
			successes = fix_outcomes.successes + excluded.successes,
			updated_at = excluded.updated_at`,
		code, inc, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record fix outcome %s", code)
}

func (s *SQLiteStore) FixStats(ctx context.Context, code string) (model.FixStats, error) {
	st := model.FixStats{Code: code}
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts, successes FROM fix_outcomes WHERE code = ?`, code,
	).Scan(&st.Attempts, &st.Successes)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	return st, eris.Wrapf(err, "sqlite: fix stats %s", code)
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.CaseStats, error) {
	var st model.CaseStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN auto_approved THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN human_corrections > 0 THEN 1 ELSE 0 END), 0)
		 FROM cases`,
	).Scan(&st.Total, &st.AutoApproved, &st.ManualCorrected)
	if err != nil {
		return st, eris.Wrap(err, "sqlite: case stats")
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_patterns`).Scan(&st.Patterns)
	return st, eris.Wrap(err, "sqlite: pattern count")
}

// scannable is satisfied by *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanCase(row scannable) (*model.Case, error) {
	var (
		c                          model.Case
		rt                         string
		headers, mappings, outcome string
	)
	if err := row.Scan(&c.ID, &rt, &headers, &mappings, &outcome, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.RecordType = model.RecordType(rt)
	if err := unmarshalCase(&c, []byte(headers), []byte(mappings), []byte(outcome)); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPattern(row scannable) (*model.LearnedPattern, error) {
	var (
		p                      model.LearnedPattern
		conds, effect, sources string
	)
	if err := row.Scan(&p.ID, &p.Code, &conds, &effect, &p.Description, &sources, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalPattern(&p, []byte(conds), []byte(effect), []byte(sources)); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalCase(c model.Case) (headers, mappings, outcome string, err error) {
	h, err := json.Marshal(c.Headers)
	if err != nil {
		return "", "", "", err
	}
	m, err := json.Marshal(c.Mappings)
	if err != nil {
		return "", "", "", err
	}
	o, err := json.Marshal(c.Outcome)
	if err != nil {
		return "", "", "", err
	}
	return string(h), string(m), string(o), nil
}

func unmarshalCase(c *model.Case, headers, mappings, outcome []byte) error {
	if err := json.Unmarshal(headers, &c.Headers); err != nil {
		return eris.Wrap(err, "unmarshal headers")
	}
	if err := json.Unmarshal(mappings, &c.Mappings); err != nil {
		return eris.Wrap(err, "unmarshal mappings")
	}
	if err := json.Unmarshal(outcome, &c.Outcome); err != nil {
		return eris.Wrap(err, "unmarshal outcome")
	}
	return nil
}

func marshalPattern(p model.LearnedPattern) (conds, effect, sources string, err error) {
	c, err := json.Marshal(p.Conditions)
	if err != nil {
		return "", "", "", err
	}
	e, err := json.Marshal(p.Effect)
	if err != nil {
		return "", "", "", err
	}
	if p.SourceCases == nil {
		p.SourceCases = []string{}
	}
	s, err := json.Marshal(p.SourceCases)
	if err != nil {
		return "", "", "", err
	}
	return string(c), string(e), string(s), nil
}

func unmarshalPattern(p *model.LearnedPattern, conds, effect, sources []byte) error {
	if err := json.Unmarshal(conds, &p.Conditions); err != nil {
		return eris.Wrap(err, "unmarshal conditions")
	}
	if err := json.Unmarshal(effect, &p.Effect); err != nil {
		return eris.Wrap(err, "unmarshal effect")
	}
	if err := json.Unmarshal(sources, &p.SourceCases); err != nil {
		return eris.Wrap(err, "unmarshal source cases")
	}
	return nil
}

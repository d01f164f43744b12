package casestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS roster_cases (
	id                TEXT PRIMARY KEY,
	record_type       TEXT NOT NULL,
	headers           JSONB NOT NULL,
	mappings          JSONB NOT NULL,
	outcome           JSONB NOT NULL,
	auto_approved     BOOLEAN NOT NULL DEFAULT false,
	human_corrections INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roster_header_mappings (
	record_type TEXT NOT NULL,
	header_key  TEXT NOT NULL,
	field       TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (record_type, header_key)
);

CREATE TABLE IF NOT EXISTS roster_patterns (
	id           TEXT PRIMARY KEY,
	code         TEXT NOT NULL,
	conditions   JSONB NOT NULL,
	effect       JSONB NOT NULL,
	description  TEXT NOT NULL,
	source_cases JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roster_fix_outcomes (
	code       TEXT PRIMARY KEY,
	attempts   INTEGER NOT NULL DEFAULT 0,
	successes  INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_roster_cases_created_at ON roster_cases(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_roster_patterns_code ON roster_patterns(code);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertCase(ctx context.Context, c model.Case) error {
	c, err := prepareCase(c)
	if err != nil {
		return err
	}
	headers, mappings, outcome, err := marshalCase(c)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal case")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO roster_cases (id, record_type, headers, mappings, outcome, auto_approved, human_corrections, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			headers = EXCLUDED.headers,
			mappings = EXCLUDED.mappings,
			outcome = EXCLUDED.outcome,
			auto_approved = EXCLUDED.auto_approved,
			human_corrections = EXCLUDED.human_corrections,
			created_at = EXCLUDED.created_at`,
		c.ID, string(c.RecordType), headers, mappings, outcome,
		c.Outcome.AutoApproved, c.Outcome.HumanCorrections, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert case %s", c.ID)
}

func (s *PostgresStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, record_type, headers, mappings, outcome, created_at FROM roster_cases WHERE id = $1`, id)
	c, err := scanPGCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get case %s", id)
	}
	return c, nil
}

func (s *PostgresStore) FindSimilarCases(ctx context.Context, headers []string, minOverlap float64, limit int) ([]model.CaseMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_type, headers, mappings, outcome, created_at FROM roster_cases ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cases")
	}
	defer rows.Close()

	var all []model.Case
	for rows.Next() {
		c, err := scanPGCase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan case")
		}
		all = append(all, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate cases")
	}
	return rankMatches(all, headers, minOverlap, limit), nil
}

func (s *PostgresStore) UpsertHeaderMapping(ctx context.Context, rt model.RecordType, header, field string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO roster_header_mappings (record_type, header_key, field, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (record_type, header_key) DO UPDATE SET field = EXCLUDED.field, updated_at = now()`,
		string(rt), HeaderKey(header), field,
	)
	return eris.Wrapf(err, "postgres: upsert header mapping %q", header)
}

func (s *PostgresStore) LookupHeader(ctx context.Context, rt model.RecordType, header string) (string, bool, error) {
	var field string
	err := s.pool.QueryRow(ctx,
		`SELECT field FROM roster_header_mappings WHERE record_type = $1 AND header_key = $2`,
		string(rt), HeaderKey(header),
	).Scan(&field)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup header %q", header)
	}
	return field, true, nil
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, p model.LearnedPattern) error {
	p, err := preparePattern(p)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin pattern upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanPGPattern(tx.QueryRow(ctx,
		`SELECT id, code, conditions, effect, description, source_cases, created_at, updated_at
		 FROM roster_patterns WHERE id = $1 FOR UPDATE`, p.ID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return eris.Wrapf(err, "postgres: read pattern %s", p.ID)
	default:
		p = mergePattern(*existing, p)
	}

	conds, effect, sources, err := marshalPattern(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pattern")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO roster_patterns (id, code, conditions, effect, description, source_cases, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			conditions = EXCLUDED.conditions,
			effect = EXCLUDED.effect,
			description = EXCLUDED.description,
			source_cases = EXCLUDED.source_cases,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Code, conds, effect, p.Description, sources, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert pattern %s", p.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit pattern upsert")
}

func (s *PostgresStore) ListPatterns(ctx context.Context) ([]model.LearnedPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, conditions, effect, description, source_cases, created_at, updated_at
		 FROM roster_patterns ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query patterns")
	}
	defer rows.Close()

	var out []model.LearnedPattern
	for rows.Next() {
		p, err := scanPGPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate patterns")
}

func (s *PostgresStore) RecordFixOutcome(ctx context.Context, code string, success bool) error {
	inc := 0
	if success {
		inc = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO roster_fix_outcomes (code, attempts, successes, updated_at) VALUES ($1, 1, $2, now())
		 ON CONFLICT (code) DO UPDATE SET
			attempts = roster_fix_outcomes.attempts + 1,
			successes = roster_fix_outcomes.successes + EXCLUDED.successes,
			updated_at = now()`,
		code, inc,
	)
	return eris.Wrapf(err, "postgres: record fix outcome %s", code)
}

func (s *PostgresStore) FixStats(ctx context.Context, code string) (model.FixStats, error) {
	st := model.FixStats{Code: code}
	err := s.pool.QueryRow(ctx,
		`SELECT attempts, successes FROM roster_fix_outcomes WHERE code = $1`, code,
	).Scan(&st.Attempts, &st.Successes)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	return st, eris.Wrapf(err, "postgres: fix stats %s", code)
}

func (s *PostgresStore) Stats(ctx context.Context) (model.CaseStats, error) {
	var st model.CaseStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE auto_approved),
			COUNT(*) FILTER (WHERE human_corrections > 0),
			(SELECT COUNT(*) FROM roster_patterns)
		 FROM roster_cases`,
	).Scan(&st.Total, &st.AutoApproved, &st.ManualCorrected, &st.Patterns)
	return st, eris.Wrap(err, "postgres: case stats")
}

func scanPGCase(row pgx.Row) (*model.Case, error) {
	var (
		c                          model.Case
		rt                         string
		headers, mappings, outcome []byte
	)
	if err := row.Scan(&c.ID, &rt, &headers, &mappings, &outcome, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.RecordType = model.RecordType(rt)
	if err := unmarshalCase(&c, headers, mappings, outcome); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPGPattern(row pgx.Row) (*model.LearnedPattern, error) {
	var (
		p                      model.LearnedPattern
		conds, effect, sources []byte
	)
	if err := row.Scan(&p.ID, &p.Code, &conds, &effect, &p.Description, &sources, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalPattern(&p, conds, effect, sources); err != nil {
		return nil, err
	}
	return &p, nil
}

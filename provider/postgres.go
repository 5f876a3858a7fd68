package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxgate/fluxgate/rules"
)

type PostgresConfig struct {
	ConnString string
	MaxConns   int32
	MinConns   int32
	// Table holding rule-set documents; defaults to fluxgate_rule_sets.
	Table string
}

// Postgres reads rule-set documents from the control store. Documents are
// the JSON serialization of rules.RuleSet kept in a JSONB column.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

const defaultRuleSetTable = "fluxgate_rule_sets"

const createRuleSetTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgres connects to the control store and ensures the rule-set
// table exists.
func NewPostgres(config PostgresConfig) (*Postgres, error) {
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}
	if config.Table == "" {
		config.Table = defaultRuleSetTable
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, table: config.Table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(createRuleSetTableSQL, p.table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure rule-set table: %w", err)
	}
	return p, nil
}

func (p *Postgres) FindByID(ctx context.Context, ruleSetID string) (*rules.RuleSet, error) {
	var document []byte
	query := fmt.Sprintf("SELECT document FROM %s WHERE id = $1", p.table)
	err := p.pool.QueryRow(ctx, query, ruleSetID).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, ruleSetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule-set %q: %w", ruleSetID, err)
	}

	rs, err := rules.UnmarshalRuleSet(document)
	if err != nil {
		return nil, fmt.Errorf("invalid rule-set document %q: %w", ruleSetID, err)
	}
	return rs, nil
}

// Save upserts a rule-set document. The control plane owns writes; this
// exists for provisioning and tests.
func (p *Postgres) Save(ctx context.Context, rs *rules.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	document, err := rules.MarshalRuleSet(rs)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, document, updated_at) VALUES ($1, $2, now()) ON CONFLICT (id) DO UPDATE SET document = $2, updated_at = now()",
		p.table,
	)
	if _, err := p.pool.Exec(ctx, query, rs.ID, document); err != nil {
		return fmt.Errorf("failed to save rule-set %q: %w", rs.ID, err)
	}
	return nil
}

// Delete removes a rule-set document.
func (p *Postgres) Delete(ctx context.Context, ruleSetID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.table)
	if _, err := p.pool.Exec(ctx, query, ruleSetID); err != nil {
		return fmt.Errorf("failed to delete rule-set %q: %w", ruleSetID, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

package db

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrade/internal/models"
)

// Migration is one forward-only schema step. Versions are never edited once released.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the ordered schema history.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "market_data",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS candles (
				id BIGSERIAL PRIMARY KEY,
				exchange VARCHAR(32) NOT NULL,
				asset VARCHAR(32) NOT NULL,
				"interval" VARCHAR(8) NOT NULL,
				open_time TIMESTAMPTZ NOT NULL,
				open NUMERIC(30,10) NOT NULL,
				high NUMERIC(30,10) NOT NULL,
				low NUMERIC(30,10) NOT NULL,
				close NUMERIC(30,10) NOT NULL,
				volume NUMERIC(30,10) NOT NULL,
				CONSTRAINT uq_candles UNIQUE (exchange, asset, "interval", open_time)
			)`,
			`CREATE TABLE IF NOT EXISTS funding_snapshots (
				id BIGSERIAL PRIMARY KEY,
				exchange VARCHAR(32) NOT NULL,
				asset VARCHAR(32) NOT NULL,
				ts TIMESTAMPTZ NOT NULL,
				funding_rate NUMERIC(30,10) NOT NULL,
				open_interest NUMERIC(30,10),
				mark_price NUMERIC(30,10)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_funding_asset_at ON funding_snapshots (exchange, asset, ts)`,
			`CREATE TABLE IF NOT EXISTS prediction_markets (
				id BIGSERIAL PRIMARY KEY,
				market_id VARCHAR(128) NOT NULL,
				title TEXT,
				asset VARCHAR(32) NOT NULL,
				ts TIMESTAMPTZ NOT NULL,
				yes_price NUMERIC(30,10),
				no_price NUMERIC(30,10),
				volume_24h NUMERIC(30,10),
				liquidity NUMERIC(30,10),
				end_date TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_prediction_asset_at ON prediction_markets (asset, ts)`,
		},
	},
	{
		Version: 2,
		Name:    "signals",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS signals (
				id BIGSERIAL PRIMARY KEY,
				strategy VARCHAR(64) NOT NULL,
				asset VARCHAR(32) NOT NULL,
				exchange VARCHAR(32) NOT NULL,
				direction VARCHAR(8) NOT NULL,
				confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
				entry_price NUMERIC(30,10) NOT NULL DEFAULT 0,
				metadata JSONB,
				acted_on BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_signals_claim ON signals (exchange, strategy, acted_on)`,
			`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals (created_at)`,
		},
	},
	{
		Version: 3,
		Name:    "accounts_positions_mtm",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(128) NOT NULL UNIQUE,
				exchange VARCHAR(32) NOT NULL,
				strategy VARCHAR(64) NOT NULL,
				initial_capital NUMERIC(30,10) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_accounts_scope ON accounts (exchange, strategy)`,
			`CREATE TABLE IF NOT EXISTS positions (
				id BIGSERIAL PRIMARY KEY,
				account_id BIGINT NOT NULL REFERENCES accounts(id),
				strategy VARCHAR(64) NOT NULL,
				asset VARCHAR(32) NOT NULL,
				exchange VARCHAR(32) NOT NULL,
				direction VARCHAR(8) NOT NULL,
				entry_price NUMERIC(30,10) NOT NULL,
				entry_time TIMESTAMPTZ NOT NULL,
				quantity NUMERIC(30,10) NOT NULL,
				exit_price NUMERIC(30,10),
				exit_time TIMESTAMPTZ,
				exit_reason VARCHAR(32),
				realized_pnl NUMERIC(30,10),
				status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
				signal_id BIGINT REFERENCES signals(id),
				metadata JSONB,
				CONSTRAINT ck_positions_status CHECK (status IN ('OPEN', 'CLOSED')),
				CONSTRAINT ck_positions_exit_reason CHECK (exit_reason IS NULL OR exit_reason IN ('stop_loss', 'take_profit', 'timeout', 'signal_reverse'))
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_signal_id ON positions (signal_id)`,
			`CREATE INDEX IF NOT EXISTS idx_positions_account_status ON positions (account_id, status)`,
			`CREATE TABLE IF NOT EXISTS mark_to_market (
				id BIGSERIAL PRIMARY KEY,
				account_id BIGINT NOT NULL REFERENCES accounts(id),
				ts TIMESTAMPTZ NOT NULL,
				total_equity NUMERIC(30,10) NOT NULL,
				unrealized_pnl NUMERIC(30,10) NOT NULL,
				realized_pnl NUMERIC(30,10) NOT NULL,
				open_positions INTEGER NOT NULL,
				breakdown JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mtm_account_at ON mark_to_market (account_id, ts)`,
		},
	},
	{
		Version: 4,
		Name:    "portfolios",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS portfolios (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(128) NOT NULL UNIQUE,
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS portfolio_members (
				portfolio_id BIGINT NOT NULL REFERENCES portfolios(id),
				account_id BIGINT NOT NULL REFERENCES accounts(id),
				added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (portfolio_id, account_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_portfolio_members_account_id ON portfolio_members (account_id)`,
		},
	},
	{
		Version: 5,
		Name:    "signal_claims",
		Statements: []string{
			`ALTER TABLE signals ADD COLUMN IF NOT EXISTS claimed_by BIGINT`,
			`ALTER TABLE signals ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ`,
			`CREATE INDEX IF NOT EXISTS idx_signals_claimed_by ON signals (claimed_by)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
// Each version runs in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *DB) ([]int, error) {
	if db == nil || db.Gorm == nil {
		return nil, nil
	}
	g := db.Gorm.WithContext(ctx)
	if err := g.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`).Error; err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []models.SchemaMigration
	if err := g.Order("version asc").Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	pending, err := pendingMigrations(Migrations, done)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, m := range pending {
		m := m
		err := g.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range m.Statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SchemaMigration{
				Version:   m.Version,
				Name:      m.Name,
				AppliedAt: NowUTC(),
			}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		ran = append(ran, m.Version)
	}
	return ran, nil
}

// pendingMigrations returns unapplied steps in version order and rejects
// histories with duplicate versions or gaps behind the applied head.
func pendingMigrations(all []Migration, done map[int]bool) ([]Migration, error) {
	sorted := append([]Migration(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	seen := make(map[int]bool, len(sorted))
	head := 0
	for v := range done {
		if v > head {
			head = v
		}
	}

	var out []Migration
	for _, m := range sorted {
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration %q has invalid version %d", m.Name, m.Version)
		}
		if seen[m.Version] {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
		if done[m.Version] {
			continue
		}
		if m.Version < head {
			return nil, fmt.Errorf("migration %d is older than applied version %d", m.Version, head)
		}
		out = append(out, m)
	}
	return out, nil
}

package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		app_id TEXT NOT NULL,
		app_secret TEXT NOT NULL,
		default_provider TEXT NOT NULL DEFAULT '',
		training_mode INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'offline',
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		notify_channel_id TEXT NOT NULL DEFAULT '',
		admin_user_ids TEXT NOT NULL DEFAULT '[]',
		live_profiles TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS flows (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		trigger_type TEXT NOT NULL DEFAULT '',
		nodes TEXT NOT NULL,
		edges TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flows_tenant ON flows(tenant_id, published)`,
	`CREATE TABLE IF NOT EXISTS flow_state (
		tenant_id TEXT NOT NULL,
		state_key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, state_key)
	)`,
	`CREATE TABLE IF NOT EXISTS ai_sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		mode TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		history TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_sessions_thread ON ai_sessions(tenant_id, thread_id)`,
	`CREATE TABLE IF NOT EXISTS token_limits (
		tenant_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		daily_limit INTEGER NOT NULL DEFAULT 0,
		daily_used INTEGER NOT NULL DEFAULT 0,
		daily_reset_at INTEGER NOT NULL DEFAULT 0,
		daily_auto INTEGER NOT NULL DEFAULT 1,
		weekly_limit INTEGER NOT NULL DEFAULT 0,
		weekly_used INTEGER NOT NULL DEFAULT 0,
		weekly_reset_at INTEGER NOT NULL DEFAULT 0,
		weekly_auto INTEGER NOT NULL DEFAULT 1,
		monthly_limit INTEGER NOT NULL DEFAULT 0,
		monthly_used INTEGER NOT NULL DEFAULT 0,
		monthly_reset_at INTEGER NOT NULL DEFAULT 0,
		monthly_auto INTEGER NOT NULL DEFAULT 1,
		admin_bypass INTEGER NOT NULL DEFAULT 1,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER,
		request_type TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		cost_usd TEXT NOT NULL DEFAULT '0',
		image_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_log_tenant ON usage_log(tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS training_examples (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_message TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_training_examples_tenant ON training_examples(tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		category TEXT NOT NULL,
		entry_key TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		source TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		UNIQUE (tenant_id, category, entry_key)
	)`,
}

// OpenDB opens the SQLite database and creates the schema
func OpenDB(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// Columns added after the first release - for database migration
	_, _ = db.Exec(`ALTER TABLE bots ADD COLUMN notify_channel_id TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE ai_sessions ADD COLUMN closed_at INTEGER NOT NULL DEFAULT 0`)

	return db, nil
}

// Repositories contains all repositories
type Repositories struct {
	Bot       repo.BotRepo
	Flow      repo.FlowRepo
	State     repo.StateRepo
	Session   repo.AiSessionRepo
	Limit     repo.TokenLimitRepo
	Usage     repo.UsageRepo
	Knowledge repo.KnowledgeRepo

	db *sql.DB
}

// NewRepositories creates all repositories on one database
func NewRepositories(dbPath string) (*Repositories, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Bot:       NewBotRepo(db),
		Flow:      NewFlowRepo(db),
		State:     NewStateRepo(db),
		Session:   NewAiSessionRepo(db),
		Limit:     NewTokenLimitRepo(db),
		Usage:     NewUsageRepo(db),
		Knowledge: NewKnowledgeRepo(db),
		db:        db,
	}, nil
}

// Close closes the database
func (r *Repositories) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fromUnix converts stored seconds; 0 is the zero time
func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// toUnix stores the zero time as 0
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

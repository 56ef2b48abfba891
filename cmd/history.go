package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const defaultHistoryTable = "launches"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// HistoryConfig selects the database launches are recorded in. The driver
// is inferred from the DSN when left empty: anything that looks like a
// go-sql-driver DSN (user:pass@tcp(host)/db) is mysql, everything else is
// treated as a sqlite file.
type HistoryConfig struct {
	Driver string
	DSN    string
	Table  string
}

func (c HistoryConfig) Enabled() bool {
	return c.DSN != ""
}

func (c *HistoryConfig) validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Driver == "" {
		c.Driver = inferHistoryDriver(c.DSN)
	}

	switch c.Driver {
	case "sqlite", "mysql":
	default:
		return errors.Errorf("unsupported history driver %q, must be one of [sqlite, mysql]", c.Driver)
	}

	if c.Table == "" {
		c.Table = defaultHistoryTable
	}

	if !tableNamePattern.MatchString(c.Table) {
		return errors.Errorf("invalid history table name %q", c.Table)
	}

	return nil
}

func inferHistoryDriver(dsn string) string {
	if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
		return "mysql"
	}
	return "sqlite"
}

// HistoryStore records launches and their invocations.
type HistoryStore struct {
	db     *sql.DB
	driver string
	table  string
}

// HistoryEntry is one row of the launches table.
type HistoryEntry struct {
	RunID       string
	Timestamp   string
	Plan        string
	GitCommit   string
	Started     time.Time
	TookSeconds float64
	Invocations int
	Failed      int
	ExitCode    int
}

func OpenHistory(ctx context.Context, cfg HistoryConfig) (*HistoryStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open history database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to history database")
	}

	store := &HistoryStore{db: db, driver: cfg.Driver, table: cfg.Table}
	if err := store.initTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *HistoryStore) invocationsTable() string {
	return s.table + "_invocations"
}

func (s *HistoryStore) initTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id VARCHAR(36) NOT NULL PRIMARY KEY,
		timestamp VARCHAR(15) NOT NULL,
		plan VARCHAR(255) NOT NULL,
		search_path TEXT NOT NULL,
		git_commit VARCHAR(64) NOT NULL,
		git_branch VARCHAR(255) NOT NULL,
		started VARCHAR(40) NOT NULL,
		took_seconds DOUBLE NOT NULL,
		invocations INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		exit_code INTEGER NOT NULL)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id VARCHAR(36) NOT NULL,
		idx INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL,
		command TEXT NOT NULL,
		config VARCHAR(255) NOT NULL,
		label_ratio VARCHAR(64) NOT NULL,
		exit_code INTEGER NOT NULL,
		duration_seconds DOUBLE NOT NULL,
		error TEXT NOT NULL,
		skipped INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx))`, s.invocationsTable()),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create history tables")
		}
	}

	return nil
}

// Record stores a report and all of its invocations in one transaction.
func (s *HistoryStore) Record(ctx context.Context, r *Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin history transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (
		run_id, timestamp, plan, search_path, git_commit, git_branch,
		started, took_seconds, invocations, failed, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		r.RunID, r.Timestamp, r.Plan, r.SearchPath, r.GitCommit, r.GitBranch,
		r.Started.UTC().Format(time.RFC3339Nano), r.Took.Seconds(), len(r.Invocations),
		r.Failed(), r.ExitCode(),
	); err != nil {
		return errors.Wrap(err, "insert launch")
	}

	for _, inv := range r.Invocations {
		skipped := 0
		if inv.Skipped {
			skipped = 1
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (
			run_id, idx, name, command, config, label_ratio,
			exit_code, duration_seconds, error, skipped)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.invocationsTable()),
			r.RunID, inv.Index, inv.Name, inv.CommandLine(), inv.Config, inv.LabelRatio,
			inv.ExitCode, inv.Duration.Seconds(), inv.Error, skipped,
		); err != nil {
			return errors.Wrapf(err, "insert invocation %s", inv.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit history transaction")
	}

	log.WithFields(log.Fields{
		"driver": s.driver,
		"table":  s.table,
		"run_id": r.RunID,
	}).Info("Launch recorded in history")

	return nil
}

// List returns the most recent launches first. A limit of 0 returns all.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT run_id, timestamp, plan, git_commit, started,
		took_seconds, invocations, failed, exit_code
		FROM %s ORDER BY started DESC`, s.table)

	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e       HistoryEntry
			started string
		)
		if err := rows.Scan(&e.RunID, &e.Timestamp, &e.Plan, &e.GitCommit, &started,
			&e.TookSeconds, &e.Invocations, &e.Failed, &e.ExitCode); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}

		e.Started, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, errors.Wrapf(err, "parse start time of %s", e.RunID)
		}

		entries = append(entries, e)
	}

	return entries, errors.Wrap(rows.Err(), "read history")
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"hexwatch/internal/index"
	"hexwatch/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a query index over the latest snapshot. Every Replace rebuilds it
// from scratch, so it never holds more than one snapshot's worth of sessions.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

type Session struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Status       index.Status `json:"status"`
	Workdir      string       `json:"workingDirectory"`
	Branch       string       `json:"gitBranch,omitempty"`
	LastActivity time.Time    `json:"lastActivity"`
	MessageCount int          `json:"messageCount"`
	ToolCount    int          `json:"toolUseCount"`
	FileCount    int          `json:"fileCount"`
	SourcePath   string       `json:"filePath"`
}

type Stats struct {
	Total    int                  `json:"total"`
	Active   int                  `json:"active"`
	Working  int                  `json:"working"`
	Files    int                  `json:"files"`
	Commits  int                  `json:"commits"`
	Messages int                  `json:"messages"`
	Tools    int                  `json:"tools"`
	ByStatus map[index.Status]int `json:"byStatus"`
}

// Open creates the index. An empty dbPath keeps it in memory.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(dbPath != ""); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(onDisk bool) error {
	var stmts []string
	if onDisk {
		stmts = append(stmts, `PRAGMA journal_mode = WAL;`)
	}
	stmts = append(stmts,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			rank INTEGER,
			name TEXT,
			status TEXT,
			workdir TEXT,
			branch TEXT,
			start_ts INTEGER,
			last_activity_ts INTEGER,
			message_count INTEGER,
			tool_count INTEGER,
			source_path TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS file_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			path TEXT,
			action TEXT,
			ts TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			hash TEXT,
			message TEXT,
			ts TEXT,
			author TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_ts DESC, id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_changes_session_id ON file_changes(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_commits_session_id ON commits(session_id);`,
	)

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Replace swaps the indexed sessions for those in snap in one transaction.
func (s *Store) Replace(ctx context.Context, snap *index.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM commits;`, `DELETE FROM file_changes;`, `DELETE FROM sessions;`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}

	insertSession, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions(id, rank, name, status, workdir, branch, start_ts, last_activity_ts, message_count, tool_count, source_path)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}
	defer insertSession.Close()

	insertFile, err := tx.PrepareContext(ctx, `
		INSERT INTO file_changes(session_id, path, action, ts) VALUES(?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare file change insert: %w", err)
	}
	defer insertFile.Close()

	insertCommit, err := tx.PrepareContext(ctx, `
		INSERT INTO commits(session_id, hash, message, ts, author) VALUES(?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare commit insert: %w", err)
	}
	defer insertCommit.Close()

	if snap != nil {
		for rank, rec := range snap.Sessions {
			if _, err := insertSession.ExecContext(ctx,
				rec.ID,
				rank,
				rec.DisplayName,
				string(rec.Status),
				rec.WorkingDirectory,
				rec.BranchName,
				rec.StartTime.UnixMilli(),
				rec.LastActivity.UnixMilli(),
				rec.MessageCount,
				rec.ToolCount,
				rec.SourcePath,
			); err != nil {
				return fmt.Errorf("insert session %s: %w", rec.ID, err)
			}
			for _, fc := range rec.RecentFileChanges {
				if _, err := insertFile.ExecContext(ctx, rec.ID, fc.Path, string(fc.Action), fc.Timestamp); err != nil {
					return fmt.Errorf("insert file change for %s: %w", rec.ID, err)
				}
			}
			for _, c := range rec.RecentCommits {
				if _, err := insertCommit.ExecContext(ctx, rec.ID, c.Hash, c.Message, c.Timestamp, c.Author); err != nil {
					return fmt.Errorf("insert commit for %s: %w", rec.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Subscriber keeps the store in step with published snapshots. Writes happen
// on a separate goroutine that runs until ctx is done; the callback never
// blocks and a snapshot still waiting to be written is replaced by a newer
// one. Failures are logged so the subscription survives a bad write.
func (s *Store) Subscriber(ctx context.Context, log *logging.Logger) func(*index.Snapshot) error {
	pending := make(chan *index.Snapshot, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-pending:
				if err := s.Replace(ctx, snap); err != nil {
					log.Warn("index snapshot", "error", err)
				}
			}
		}
	}()
	return func(snap *index.Snapshot) error {
		for {
			select {
			case pending <- snap:
				return nil
			default:
			}
			// Drop the stale snapshot and retry.
			select {
			case <-pending:
			default:
			}
		}
	}
}

const sessionColumns = `s.id, COALESCE(s.name, ''), COALESCE(s.status, ''), COALESCE(s.workdir, ''), COALESCE(s.branch, ''),
	COALESCE(s.last_activity_ts, 0), COALESCE(s.message_count, 0), COALESCE(s.tool_count, 0),
	(SELECT COUNT(*) FROM file_changes f WHERE f.session_id = s.id), COALESCE(s.source_path, '')`

// Search returns sessions matching every term in query against the display
// name, working directory, branch or a recently touched file path. An empty
// query lists all sessions. Results are newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = index.MaxSessions
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + ` FROM sessions s`)
	terms := SearchTerms(query)
	args := make([]any, 0, len(terms)*4+1)
	for i, term := range terms {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(`(LOWER(s.name) LIKE ? ESCAPE '\' OR LOWER(s.workdir) LIKE ? ESCAPE '\' OR LOWER(s.branch) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM file_changes f WHERE f.session_id = s.id AND LOWER(f.path) LIKE ? ESCAPE '\'))`)
		pattern := "%" + escapeLike(term) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	b.WriteString(` ORDER BY s.last_activity_ts DESC, s.id LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0, 16)
	for rows.Next() {
		var sess Session
		var status string
		var lastMS int64
		if err := rows.Scan(&sess.ID, &sess.Name, &status, &sess.Workdir, &sess.Branch,
			&lastMS, &sess.MessageCount, &sess.ToolCount, &sess.FileCount, &sess.SourcePath); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.Status = index.Status(status)
		sess.LastActivity = time.UnixMilli(lastMS).UTC()
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

// Stats summarizes the indexed snapshot the way the dashboard status bar does.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{ByStatus: map[index.Status]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(message_count), 0), COALESCE(SUM(tool_count), 0)
		FROM sessions
		GROUP BY status
	`)
	if err != nil {
		return stats, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, messages, tools int
		if err := rows.Scan(&status, &count, &messages, &tools); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		st := index.Status(status)
		stats.ByStatus[st] = count
		stats.Total += count
		stats.Messages += messages
		stats.Tools += tools
		switch st {
		case index.StatusWorking:
			stats.Working += count
			stats.Active += count
		case index.StatusActive:
			stats.Active += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate status counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_changes`).Scan(&stats.Files); err != nil {
		return stats, fmt.Errorf("count file changes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&stats.Commits); err != nil {
		return stats, fmt.Errorf("count commits: %w", err)
	}
	return stats, nil
}

// SearchTerms splits a query into lowercased terms with surrounding
// punctuation removed.
func SearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

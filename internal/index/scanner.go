package index

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"hexwatch/internal/logging"

	"golang.org/x/sync/errgroup"
)

// Scanner rebuilds the session snapshot from the files under a root
// directory. It keeps no state between calls; callers that must not overlap
// scans serialize them.
type Scanner struct {
	root    string
	now     Clock
	limit   int
	workers int
	log     *logging.Logger
}

type ScannerOption func(*Scanner)

func WithClock(now Clock) ScannerOption {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLimit(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(l *logging.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

func NewScanner(root string, opts ...ScannerOption) *Scanner {
	workers := runtime.GOMAXPROCS(0)
	if workers > 4 {
		workers = 4
	}
	s := &Scanner{
		root:    filepath.Clean(root),
		now:     time.Now,
		limit:   MaxSessions,
		workers: workers,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Root() string {
	return s.root
}

// Scan discovers every session file, builds one record per file and returns
// the most recently active sessions. A missing root yields an empty snapshot.
// The only error is ctx cancellation.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	now := s.now()

	files, err := discoverSessionFiles(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("session root not found", "root", s.root)
		} else {
			s.log.Warn("discover session files", "root", s.root, "error", err)
		}
		return &Snapshot{Sessions: []SessionRecord{}, ScannedAt: now}, nil
	}

	results := make([]*SessionRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := LoadSession(path, now, s.skipLogger(path))
			if err != nil {
				if !errors.Is(err, ErrSkipped) {
					s.log.Warn("session file excluded", "path", path, "error", err)
				}
				return nil
			}
			results[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sessions := make([]SessionRecord, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			sessions = append(sessions, *rec)
		}
	}
	sessions = dedupeSessions(sessions)
	sessions = rankSessions(sessions, s.limit)

	s.log.Info("scan complete",
		"files", len(files),
		"sessions", len(sessions),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return &Snapshot{Sessions: sessions, ScannedAt: now}, nil
}

func (s *Scanner) skipLogger(path string) SkipFunc {
	return func(lineNo int, err error) {
		s.log.Debug("skipped malformed line", "path", path, "line", lineNo, "error", err)
	}
}

// dedupeSessions keeps one record per id. Ids come from file names, so two
// project directories can hold the same one; the most recently active record
// wins and SourcePath breaks ties.
func dedupeSessions(sessions []SessionRecord) []SessionRecord {
	byID := make(map[string]int, len(sessions))
	out := sessions[:0]
	for _, rec := range sessions {
		i, seen := byID[rec.ID]
		if !seen {
			byID[rec.ID] = len(out)
			out = append(out, rec)
			continue
		}
		if prefer(rec, out[i]) {
			out[i] = rec
		}
	}
	return out
}

func prefer(a, b SessionRecord) bool {
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	return a.SourcePath < b.SourcePath
}

func rankSessions(sessions []SessionRecord, limit int) []SessionRecord {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].LastActivity.Equal(sessions[j].LastActivity) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

func discoverSessionFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: os.ErrNotExist}
	}

	files := make([]string, 0, 64)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable entry below the root only hides that entry.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsSessionFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

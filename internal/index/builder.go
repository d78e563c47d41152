package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrSkipped is returned for sources that produce no session record: summary
// artifacts and files without a single parseable event.
var ErrSkipped = errors.New("source is not a session")

type SkipFunc func(lineNo int, err error)

// sessionFold accumulates one file's events in on-disk order.
type sessionFold struct {
	events       int
	first, last  RawEvent
	messageCount int
	toolCount    int
	workdir      string
	branch       string
	fileChanges  []FileChangeEvent
}

func (f *sessionFold) add(ev RawEvent) {
	if f.events == 0 {
		f.first = ev
	}
	f.last = ev
	f.events++

	switch {
	case ev.Kind.IsMessage():
		f.messageCount++
	case ev.Kind.IsTool():
		f.toolCount++
	}

	if ev.Kind == KindToolResult {
		if path, ok := ev.Message.FilePath(); ok {
			f.fileChanges = appendCapped(f.fileChanges, FileChangeEvent{
				Path:      path,
				Action:    actionForTool(ev.Message.ToolName()),
				Timestamp: ev.RawTimestamp,
			}, MaxFileChanges)
		}
	}

	if ev.WorkingDirectory != "" {
		f.workdir = ev.WorkingDirectory
	}
	if ev.BranchName != "" {
		f.branch = ev.BranchName
	}
}

func (f *sessionFold) record(meta FileMeta, now time.Time) (SessionRecord, error) {
	if f.events == 0 {
		return SessionRecord{}, ErrSkipped
	}

	id := sessionIDFromPath(meta.Path)
	workdir := f.workdir
	if workdir == "" {
		workdir = workdirFromProjectDir(meta.Path)
	}

	start := f.first.Timestamp
	if start.IsZero() {
		start = meta.CreatedAt
	}
	last := f.last.Timestamp
	if last.IsZero() {
		last = meta.ModifiedAt
	}

	fileChanges := f.fileChanges
	if fileChanges == nil {
		fileChanges = []FileChangeEvent{}
	}
	return SessionRecord{
		ID:                id,
		DisplayName:       displayName(workdir, id),
		Status:            ClassifyStatus(last, now),
		WorkingDirectory:  workdir,
		BranchName:        f.branch,
		StartTime:         start,
		LastActivity:      last,
		MessageCount:      f.messageCount,
		ToolCount:         f.toolCount,
		RecentFileChanges: fileChanges,
		// Nothing in the log format carries commits yet.
		RecentCommits:     []CommitEvent{},
		SourcePath:        meta.Path,
	}, nil
}

// BuildRecord folds an already parsed event sequence into a session record.
func BuildRecord(events []RawEvent, meta FileMeta, now time.Time) (SessionRecord, error) {
	if isSummaryArtifact(sessionIDFromPath(meta.Path)) {
		return SessionRecord{}, ErrSkipped
	}
	var f sessionFold
	for _, ev := range events {
		f.add(ev)
	}
	return f.record(meta, now)
}

// LoadSession streams a session file through the parser and folds it without
// holding the whole event sequence in memory.
func LoadSession(path string, now time.Time, onSkip SkipFunc) (SessionRecord, error) {
	if isSummaryArtifact(sessionIDFromPath(path)) {
		return SessionRecord{}, ErrSkipped
	}

	file, err := os.Open(path)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}
	meta := FileMeta{
		Path:       path,
		CreatedAt:  stat.ModTime(),
		ModifiedAt: stat.ModTime(),
	}

	var f sessionFold
	if err := foldLines(file, &f, onSkip); err != nil {
		return SessionRecord{}, fmt.Errorf("scan %s: %w", path, err)
	}
	return f.record(meta, now)
}

// maxLineBytes bounds the memory held for one line. Longer lines (inline
// images, huge tool output) are discarded and reported through onSkip.
const maxLineBytes = 8 * 1024 * 1024

var errLineTooLong = errors.New("line exceeds size limit")

func foldLines(r io.Reader, f *sessionFold, onSkip SkipFunc) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := make([]byte, 0, 64*1024)
	oversize := false
	lineNo := 0

	for {
		chunk, err := br.ReadSlice('\n')
		if !oversize {
			if len(line)+len(chunk) > maxLineBytes {
				oversize = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return err
		}
		if eof && len(line) == 0 && !oversize {
			return nil
		}

		lineNo++
		if oversize {
			if onSkip != nil {
				onSkip(lineNo, errLineTooLong)
			}
		} else if ev, perr := ParseLine(line); perr == nil {
			f.add(ev)
		} else if onSkip != nil && !errors.Is(perr, ErrNotEvent) {
			onSkip(lineNo, perr)
		}
		line = line[:0]
		oversize = false

		if eof {
			return nil
		}
	}
}

func appendCapped[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if len(items) > limit {
		items = append(items[:0], items[len(items)-limit:]...)
	}
	return items
}

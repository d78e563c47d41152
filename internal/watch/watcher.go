// Package watch turns filesystem notifications under the session root into
// debounced rescans.
//
// The watcher is a three-state machine driven by a single goroutine:
//
//	Idle       --matching event-->  Debouncing
//	Debouncing --matching event-->  Debouncing (timer reset)
//	Debouncing --timer fires---->   Scanning
//	Scanning   --matching event-->  Scanning (pending rescan flagged)
//	Scanning   --scan done------->  Debouncing if pending, else Idle
//
// At most one scan runs at a time and at most one more is queued behind it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"hexwatch/internal/index"
	"hexwatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// ErrStopped is returned when Start is called on a stopped or already
// started watcher.
var ErrStopped = errors.New("watcher stopped")

type ScanFunc func(ctx context.Context) (*index.Snapshot, error)

type PublishFunc func(snap *index.Snapshot)

type StopFunc func() error

type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateScanning
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDebouncing:
		return "debouncing"
	case stateScanning:
		return "scanning"
	}
	return "unknown"
}

type Watcher struct {
	root     string
	scan     ScanFunc
	publish  PublishFunc
	debounce time.Duration
	log      *logging.Logger

	fsw    *fsnotify.Watcher
	notify chan string
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	stopped   bool
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	scans     sync.WaitGroup
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

func New(root string, scan ScanFunc, publish PublishFunc, opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		scan:     scan,
		publish:  publish,
		debounce: DefaultDebounce,
		log:      logging.Nop(),
		notify:   make(chan string, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start establishes the filesystem observation, triggers the initial scan
// and returns the handle that stops watching. A watcher runs at most once:
// Start after Stop, or a second Start, returns ErrStopped. Failing to
// observe the root is returned as is and not retried. Cancelling ctx stops
// scheduling new scans, like calling the stop handle.
func (w *Watcher) Start(ctx context.Context) (StopFunc, error) {
	err := ErrStopped
	w.startOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			return
		}
		err = w.open()
		if err != nil {
			return
		}
		go w.forward()
		w.loop(ctx)
	})
	if err != nil {
		return nil, err
	}
	return w.Stop, nil
}

func (w *Watcher) loop(ctx context.Context) {
	w.started.Store(true)
	go w.run(ctx)
}

func (w *Watcher) open() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := addTree(fsw, w.root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.fsw = fsw
	return nil
}

// Stop cancels any pending debounce, releases the filesystem observation and
// waits for an in-flight scan to finish. Its result is not published. After
// ctx passed to Start is cancelled, Stop must still be called to release the
// observation.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		fsw := w.fsw
		w.mu.Unlock()

		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		if fsw != nil {
			err = fsw.Close()
		}
		w.scans.Wait()
	})
	return err
}

// addTree watches root and every directory below it; fsnotify is not
// recursive on its own.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) forward() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if err := addTree(w.fsw, ev.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
					w.log.Debug("watch new path", "path", ev.Name, "error", err)
				}
			}
			select {
			case w.notify <- ev.Name:
			case <-w.stop:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fs watcher error", "error", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	st := stateIdle
	pending := false
	var timer *time.Timer
	var timerC <-chan time.Time
	scanDone := make(chan *index.Snapshot, 1)
	scanCtx := context.WithoutCancel(ctx)

	transition := func(next state) {
		if st != next {
			w.log.Debug("watcher state", "from", st, "to", next)
		}
		st = next
	}
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(w.debounce)
		timerC = timer.C
		transition(stateDebouncing)
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	startScan := func() {
		disarm()
		transition(stateScanning)
		w.scans.Add(1)
		go func() {
			defer w.scans.Done()
			snap, err := w.scan(scanCtx)
			if err != nil {
				w.log.Error("scan failed", "root", w.root, "error", err)
				snap = nil
			}
			scanDone <- snap
		}()
	}

	startScan()

	for {
		select {
		case <-w.stop:
			disarm()
			return
		case <-ctx.Done():
			disarm()
			return
		case path := <-w.notify:
			if !index.IsSessionFile(path) {
				continue
			}
			switch st {
			case stateIdle, stateDebouncing:
				arm()
			case stateScanning:
				pending = true
			}
		case <-timerC:
			startScan()
		case snap := <-scanDone:
			if snap != nil && w.publish != nil {
				w.publish(snap)
			}
			if pending {
				pending = false
				arm()
			} else {
				transition(stateIdle)
			}
		}
	}
}

package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileLedger stores one JSON record per line in a shared file. Appends
// go through a single O_APPEND write, which the kernel keeps atomic for
// records well under the pipe buffer size, so independent processes can
// append without coordinating. Scans skip malformed lines (a reader may
// race a partially flushed append) rather than failing.
type FileLedger struct {
	path      string
	retention time.Duration
	now       func() time.Time

	mu          sync.Mutex
	lastCompact time.Time
}

// NewFileLedger creates a file-backed ledger at path. retention <= 0
// uses DefaultRetention.
func NewFileLedger(path string, retention time.Duration) *FileLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &FileLedger{
		path:      path,
		retention: retention,
		now:       time.Now,
	}
}

// Append writes one record to the shared file and opportunistically
// compacts away records older than the retention window.
func (l *FileLedger) Append(ctx context.Context, rec CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PID == 0 {
		rec.PID = os.Getpid()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append call record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	if l.now().Sub(l.lastCompact) > l.retention/2 {
		l.lastCompact = l.now()
		l.compactLocked()
	}
	return nil
}

// ScanSince reads records newer than the window, oldest first.
func (l *FileLedger) ScanSince(ctx context.Context, window time.Duration) ([]CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := l.readSince(window)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}

func (l *FileLedger) readSince(window time.Duration) ([]CallRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	cutoff := l.now().Add(-window)
	var recs []CallRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec CallRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // torn or foreign line
		}
		if rec.StartedAt.Before(cutoff) {
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return recs, fmt.Errorf("scan ledger: %w", err)
	}
	return recs, nil
}

// compactLocked rewrites the file keeping only retained records. A
// concurrent appender from another process can lose a record to the
// rename race; the ledger tolerates that, readers never see torn data.
func (l *FileLedger) compactLocked() {
	recs, err := l.readSince(l.retention)
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-compact-*")
	if err != nil {
		return
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return
	}
	if err := tmp.Close(); err != nil {
		return
	}
	os.Rename(tmp.Name(), l.path)
}

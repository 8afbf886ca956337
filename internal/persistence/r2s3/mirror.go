package r2s3

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Putter is the part of Client the mirror needs.
type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	EnqueuedTotal  uint64
	DroppedTotal   uint64
	UploadedTotal  uint64
	FailedTotal    uint64
	LastUploadUnix int64
}

// Mirror copies finished match files to object storage. Keys are the
// file's path relative to the data directory, under an optional prefix.
type Mirror struct {
	client  Putter
	dataDir string
	prefix  string
	log     *log.Logger

	jobs     chan string
	wait     time.Duration
	attempts int
	sleep    func(time.Duration)
	wg       sync.WaitGroup
	closed   atomic.Bool

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	uploaded   atomic.Uint64
	failed     atomic.Uint64
	lastUpload atomic.Int64
}

func NewMirror(client Putter, dataDir, prefix string, workers, queue int, logger *log.Logger) *Mirror {
	if logger == nil {
		logger = log.Default()
	}
	workers = max(1, workers)
	if queue <= 0 {
		queue = 1024
	}
	m := &Mirror{
		client:   client,
		dataDir:  dataDir,
		prefix:   strings.Trim(filepath.ToSlash(prefix), "/"),
		log:      logger,
		jobs:     make(chan string, queue),
		wait:     25 * time.Millisecond,
		attempts: 4,
		sleep:    time.Sleep,
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules one file. It waits briefly when the queue is full and
// then drops the file.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.closed.Load() {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.wait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.log.Printf("mirror drop path=%s dropped_total=%d", localPath, n)
	}
}

// EnqueueDir schedules every regular file under dir, skipping in-progress
// .tmp files.
func (m *Mirror) EnqueueDir(dir string) error {
	if m == nil {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		m.Enqueue(p)
		return nil
	})
}

// Close stops accepting files and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(m.jobs),
		QueueCapacity:  cap(m.jobs),
		EnqueuedTotal:  m.enqueued.Load(),
		DroppedTotal:   m.dropped.Load(),
		UploadedTotal:  m.uploaded.Load(),
		FailedTotal:    m.failed.Load(),
		LastUploadUnix: m.lastUpload.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Printf("mirror skip path=%s err=%v", localPath, err)
		return
	}
	var last error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		last = m.client.PutFile(ctx, key, localPath)
		cancel()
		if last == nil {
			m.uploaded.Add(1)
			m.lastUpload.Store(time.Now().Unix())
			return
		}
		if attempt < m.attempts {
			m.sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
		}
	}
	m.failed.Add(1)
	m.log.Printf("mirror upload failed key=%s err=%v", key, last)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

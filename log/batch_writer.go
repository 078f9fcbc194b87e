package log

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// BatchWriter buffers writes to an underlying writer and flushes them once the
// buffer reaches size bytes or every interval, whichever comes first.
type BatchWriter struct {
	underlying io.Writer
	size       int
	interval   time.Duration

	mu     sync.Mutex
	buf    []byte
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	writes  atomic.Int64
	flushes atomic.Int64
	errors  atomic.Int64
}

// BatchStats are the counters of a BatchWriter.
type BatchStats struct {
	Writes  int64
	Flushes int64
	Errors  int64
}

// NewBatchWriter wraps w. An interval of zero or less disables the periodic
// flush.
func NewBatchWriter(w io.Writer, size int, interval time.Duration) *BatchWriter {
	bw := &BatchWriter{
		underlying: w,
		size:       size,
		interval:   interval,
		buf:        make([]byte, 0, size),
		stopCh:     make(chan struct{}),
	}
	if interval > 0 {
		bw.wg.Add(1)
		go bw.flushLoop()
	}
	return bw
}

// Write implements io.Writer. Lines larger than the buffer go straight through
// after the pending buffer.
func (bw *BatchWriter) Write(p []byte) (int, error) {
	if bw.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	bw.writes.Add(1)

	bw.mu.Lock()
	defer bw.mu.Unlock()
	if len(bw.buf)+len(p) > bw.size {
		if err := bw.flushLocked(); err != nil {
			return 0, err
		}
	}
	if len(p) > bw.size {
		n, err := bw.underlying.Write(p)
		if err != nil {
			bw.errors.Add(1)
		}
		return n, err
	}
	bw.buf = append(bw.buf, p...)
	return len(p), nil
}

// flushLocked writes the buffer out. bw.mu must be held.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.underlying.Write(bw.buf)
	if err != nil {
		bw.errors.Add(1)
		return err
	}
	bw.buf = bw.buf[:0]
	bw.flushes.Add(1)
	return nil
}

// Flush writes out whatever is buffered.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

func (bw *BatchWriter) flushLoop() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-bw.stopCh:
			return
		case <-ticker.C:
			_ = bw.Flush()
		}
	}
}

// Close flushes, stops the flush loop and closes the underlying writer when it
// is an io.Closer.
func (bw *BatchWriter) Close() error {
	if bw.closed.Swap(true) {
		return nil
	}
	close(bw.stopCh)
	bw.wg.Wait()
	err := bw.Flush()
	if c, ok := bw.underlying.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Stats returns the write, flush and error counters.
func (bw *BatchWriter) Stats() BatchStats {
	return BatchStats{Writes: bw.writes.Load(), Flushes: bw.flushes.Load(), Errors: bw.errors.Load()}
}

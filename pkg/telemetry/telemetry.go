package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"convodb/pkg/state/logger"
	"convodb/pkg/timeutil"

	"github.com/prometheus/client_golang/prometheus"
)

var opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "convodb_op_duration_seconds",
	Help:    "Duration of tracked operations.",
	Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
}, []string{"op"})

func init() {
	prometheus.MustRegister(opDuration)
}

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	lastMark time.Time
	tel      *Telemetry
	done     bool
}

type Options struct {
	// Dir receives one <op>.jsonl file per operation name for slow traces.
	// Empty disables the file sink.
	Dir           string
	SlowThreshold time.Duration
	BufferSize    int
	QueueCapacity int
	FlushInterval time.Duration
	MaxFileSize   int64
}

// Telemetry records operation timings and writes slow traces asynchronously.
type Telemetry struct {
	opts     Options
	mu       sync.Mutex
	files    map[string]*os.File
	buffers  map[string]*bufio.Writer
	traces   chan *Trace
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	globalMu sync.RWMutex
	tel      *Telemetry
)

// Init installs the global telemetry instance.
func Init(opts Options) error {
	t, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	tel = t
	globalMu.Unlock()
	return nil
}

// Track starts a trace on the global instance. Traces started before Init
// still feed the duration histogram.
func Track(name string) *Trace {
	globalMu.RLock()
	t := tel
	globalMu.RUnlock()
	return t.Track(name)
}

// Close stops the global instance, flushing pending traces.
func Close() {
	globalMu.Lock()
	t := tel
	tel = nil
	globalMu.Unlock()
	if t != nil {
		t.Close()
	}
}

func New(opts Options) (*Telemetry, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 4096
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	t := &Telemetry{
		opts:    opts,
		files:   make(map[string]*os.File),
		buffers: make(map[string]*bufio.Writer),
		traces:  make(chan *Trace, opts.QueueCapacity),
		stopCh:  make(chan struct{}),
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
		t.wg.Add(1)
		go t.writerLoop()
	}
	return t, nil
}

// Track starts a trace; t may be nil.
func (t *Telemetry) Track(name string) *Trace {
	now := timeutil.Now()
	return &Trace{Name: name, Start: now, lastMark: now, tel: t}
}

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	now := timeutil.Now()
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: ms(now.Sub(tr.lastMark))})
	tr.lastMark = now
}

// Finish observes the trace; safe to call more than once.
func (tr *Trace) Finish() {
	if tr.done {
		return
	}
	tr.done = true
	total := timeutil.Now().Sub(tr.Start)
	tr.TotalMS = ms(total)
	opDuration.WithLabelValues(tr.Name).Observe(total.Seconds())

	t := tr.tel
	tr.tel = nil
	if t == nil || t.opts.SlowThreshold <= 0 || total < t.opts.SlowThreshold {
		return
	}
	logger.Warn("slow_operation", "op", tr.Name, "total_ms", tr.TotalMS, "steps", len(tr.Steps))
	if t.opts.Dir == "" {
		return
	}
	select {
	case t.traces <- tr:
	case <-t.stopCh:
	default:
		// queue full; drop
	}
}

func ms(d time.Duration) float64 {
	return d.Seconds() * 1000
}

func (t *Telemetry) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()
}

func (t *Telemetry) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case tr := <-t.traces:
			t.write(tr)
		case <-ticker.C:
			t.flush(true)
		case <-t.stopCh:
			for {
				select {
				case tr := <-t.traces:
					t.write(tr)
					continue
				default:
				}
				break
			}
			t.flush(false)
			t.mu.Lock()
			for _, f := range t.files {
				_ = f.Sync()
				_ = f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Telemetry) write(tr *Trace) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bufferFor(tr.Name)
	if b == nil {
		return
	}
	b.Write(data)
	b.WriteByte('\n')
}

func (t *Telemetry) flush(truncate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, b := range t.buffers {
		_ = b.Flush()
		if !truncate {
			continue
		}
		f := t.files[name]
		fi, err := f.Stat()
		if err != nil || fi.Size() <= t.opts.MaxFileSize {
			continue
		}
		// start the file over once it grows past the limit
		_ = f.Close()
		nf, err := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			delete(t.files, name)
			delete(t.buffers, name)
			continue
		}
		t.files[name] = nf
		t.buffers[name] = bufio.NewWriterSize(nf, t.opts.BufferSize)
		logger.Info("telemetry_truncated", "op", name, "max_bytes", t.opts.MaxFileSize)
	}
}

func (t *Telemetry) bufferFor(op string) *bufio.Writer {
	if b, ok := t.buffers[op]; ok {
		return b
	}
	path := filepath.Join(t.opts.Dir, op+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("telemetry_open_failed", "path", path, "error", err)
		return nil
	}
	b := bufio.NewWriterSize(f, t.opts.BufferSize)
	t.files[op] = f
	t.buffers[op] = b
	return b
}

package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"trendcross/internal/model"
)

var (
	ErrAlreadyRunning = errors.New("stream already running")
	ErrNotRunning     = errors.New("stream not running")
)

// Factory builds a runner for a series.
type Factory func(series model.Series) (*Runner, error)

// Status describes one running stream.
type Status struct {
	Series    model.Series    `json:"series"`
	SessionID string          `json:"session_id"`
	Bars      int             `json:"bars"`
	Position  *model.Position `json:"position"`
	Summary   model.Summary   `json:"summary"`
}

type handle struct {
	runner *Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts and stops live runners by series. At most one runner per
// series is active.
type Manager struct {
	ctx     context.Context
	factory Factory

	mu      sync.Mutex
	running map[model.Series]*handle
}

// NewManager creates a manager whose runners live at most as long as ctx.
func NewManager(ctx context.Context, factory Factory) *Manager {
	return &Manager{
		ctx:     ctx,
		factory: factory,
		running: make(map[model.Series]*handle),
	}
}

// Start launches a runner for series in the background: warm-up, then stream.
func (m *Manager) Start(series model.Series) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[series]; ok {
		return nil, fmt.Errorf("%s: %w", series.Key(), ErrAlreadyRunning)
	}
	r, err := m.factory(series)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	h := &handle{runner: r, cancel: cancel, done: make(chan struct{})}
	m.running[series] = h

	go func() {
		defer close(h.done)
		defer m.remove(series, h)
		if n, err := r.Warmup(ctx); err != nil {
			log.Printf("[live] %s warmup failed, starting cold: %v", series.Key(), err)
		} else if n > 0 {
			log.Printf("[live] %s warmed up on %d bars", series.Key(), n)
		}
		if err := r.Run(ctx); err != nil {
			log.Printf("[live] %s stopped: %v", series.Key(), err)
		}
	}()
	return r, nil
}

// Stop cancels the runner for series and waits for it to close its session.
func (m *Manager) Stop(series model.Series) error {
	m.mu.Lock()
	h, ok := m.running[series]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", series.Key(), ErrNotRunning)
	}
	h.cancel()
	<-h.done
	return nil
}

// StopAll stops every runner.
func (m *Manager) StopAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.running))
	for _, h := range m.running {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// Running reports the active streams, sorted by series key.
func (m *Manager) Running() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.running))
	for s, h := range m.running {
		sess := h.runner.Session()
		out = append(out, Status{
			Series:    s,
			SessionID: sess.ID(),
			Bars:      sess.Count(),
			Position:  sess.Position(),
			Summary:   sess.Summary(),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Series.Key() < out[j].Series.Key() })
	return out
}

func (m *Manager) remove(series model.Series, h *handle) {
	m.mu.Lock()
	if m.running[series] == h {
		delete(m.running, series)
	}
	m.mu.Unlock()
}

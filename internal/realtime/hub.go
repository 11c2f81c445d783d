// Package realtime fans polled earthquake data out to WebSocket and SSE
// consumers and answers their per-connection requests.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
)

const (
	DefaultBroadcastInterval = 30 * time.Second
	DefaultSnapshotLimit     = 10
	DefaultFetchTimeout      = 10 * time.Second

	fetchFailedMessage = "Failed to fetch earthquake data"
)

// Fetcher supplies the current earthquake collection. It may be called
// concurrently.
type Fetcher interface {
	FetchEarthquakes(ctx context.Context, q quake.Query) (*quake.Collection, error)
}

type FetcherFunc func(ctx context.Context, q quake.Query) (*quake.Collection, error)

func (f FetcherFunc) FetchEarthquakes(ctx context.Context, q quake.Query) (*quake.Collection, error) {
	return f(ctx, q)
}

type HubConfig struct {
	Interval      time.Duration
	SnapshotLimit int
	FetchTimeout  time.Duration
}

// Hub polls the fetcher on a fixed interval and on demand, and delivers the
// result to the connections held by its Registry.
type Hub struct {
	logger   *slog.Logger
	fetcher  Fetcher
	registry *Registry
	cfg      HubConfig
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	ticking  atomic.Bool
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

func NewHub(fetcher Fetcher, registry *Registry, cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBroadcastInterval
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:   logger,
		fetcher:  fetcher,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Open registers c and sends it a snapshot without waiting for the next tick.
func (h *Hub) Open(c Conn) {
	if !h.registry.Register(c) {
		return
	}
	h.goSnapshot(c)
}

// Drop deregisters and closes c.
func (h *Hub) Drop(c Conn) {
	h.registry.Deregister(c)
}

// HandleMessage dispatches one inbound frame from c. Nothing here closes the
// connection: malformed and unknown frames are logged and dropped.
func (h *Hub) HandleMessage(c Conn, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		h.logger.Warn("dropping malformed message", "conn", c.ID(), "error", err)
		return
	}

	switch env.Type {
	case KindRequestData:
		h.goSnapshot(c)
	case KindPing:
		h.send(c, NewEnvelope(KindPong, h.now()))
	default:
		if env.Type.Known() {
			h.logger.Debug("ignoring hub-only message kind from client", "conn", c.ID(), "type", env.Type)
			return
		}
		h.logger.Info("unknown message type", "conn", c.ID(), "type", env.Type)
	}
}

// SendSnapshot fetches once and replies to c with exactly one DATA_SNAPSHOT
// or ERROR envelope. Failures are not retried.
func (h *Hub) SendSnapshot(ctx context.Context, c Conn) {
	coll, err := h.fetch(ctx)
	if err != nil {
		h.logger.Warn("snapshot fetch failed", "conn", c.ID(), "error", err)
		h.send(c, NewErrorEnvelope(fetchFailedMessage, h.now()))
		return
	}

	env, err := NewDataEnvelope(KindDataSnapshot, coll, h.now())
	if err != nil {
		h.logger.Error("encode snapshot failed", "conn", c.ID(), "error", err)
		h.send(c, NewErrorEnvelope(fetchFailedMessage, h.now()))
		return
	}
	h.send(c, env)
}

// Tick runs one broadcast cycle. It does nothing when no connection is open
// or when the previous tick is still in flight. A fetch failure skips the
// cycle without notifying anyone.
func (h *Hub) Tick(ctx context.Context) {
	if h.registry.Len() == 0 {
		return
	}
	if !h.ticking.CompareAndSwap(false, true) {
		h.logger.Debug("previous broadcast still in flight, skipping tick")
		return
	}
	defer h.ticking.Store(false)

	coll, err := h.fetch(ctx)
	if err != nil {
		h.logger.Error("broadcast fetch failed, skipping cycle", "error", err)
		return
	}
	env, err := NewDataEnvelope(KindDataUpdate, coll, h.now())
	if err != nil {
		h.logger.Error("encode update failed", "error", err)
		return
	}
	frame, err := EncodeEnvelope(env)
	if err != nil {
		h.logger.Error("encode update failed", "error", err)
		return
	}

	delivered := 0
	h.registry.ForEachOpen(func(c Conn) {
		if err := c.Send(frame); err != nil {
			h.logger.Warn("broadcast send failed, dropping client", "conn", c.ID(), "error", err)
			h.registry.Deregister(c)
			return
		}
		delivered++
	})
	h.logger.Debug("broadcast update", "features", len(coll.Features), "delivered", delivered)
}

// Run ticks every interval until ctx is done, then closes every connection
// and waits for in-flight snapshot requests.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.logger.Info("broadcast hub started", "interval", h.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopping = true
			h.mu.Unlock()
			h.cancel()
			h.registry.Close()
			h.wg.Wait()
			h.logger.Info("broadcast hub stopped")
			return nil
		case <-ticker.C:
			// Tick runs on its own goroutine so a slow upstream never delays
			// the ticker; the in-flight guard skips overlapping cycles.
			h.spawn(func() { h.Tick(ctx) })
		}
	}
}

// Wait blocks until every snapshot or tick started so far has finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) goSnapshot(c Conn) {
	h.spawn(func() { h.SendSnapshot(h.ctx, c) })
}

func (h *Hub) spawn(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) fetch(ctx context.Context) (*quake.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()
	return h.fetcher.FetchEarthquakes(ctx, quake.Query{Limit: h.cfg.SnapshotLimit})
}

func (h *Hub) send(c Conn, env Envelope) {
	frame, err := EncodeEnvelope(env)
	if err != nil {
		h.logger.Error("encode envelope failed", "conn", c.ID(), "type", env.Type, "error", err)
		return
	}
	if err := c.Send(frame); err != nil {
		h.logger.Warn("send failed, dropping client", "conn", c.ID(), "type", env.Type, "error", err)
		h.registry.Deregister(c)
	}
}

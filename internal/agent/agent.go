// Package agent keeps a best-effort live channel to the broadcast hub and
// recovers from transient loss with capped exponential backoff.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/galadrimteam/quakewatch/internal/realtime"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultMaxAttempts = 5
	DefaultHeartbeat   = 30 * time.Second
	DefaultDialTimeout = 10 * time.Second

	baseDelay = time.Second
	maxDelay  = 30 * time.Second

	errMaxAttempts   = "max reconnection attempts reached"
	errConnection    = "connection error"
	errParse         = "failed to parse message"
	errUnknownServer = "unknown error"
)

// Backoff returns the delay before reconnect attempt n (n >= 1):
// min(1s * 2^n, 30s).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxDelay
	}
	d := baseDelay << attempt
	if d > maxDelay {
		return maxDelay
	}
	return d
}

type Config struct {
	URL         string
	MaxAttempts int
	Heartbeat   time.Duration
	DialTimeout time.Duration
}

// Status is the owner-facing view of the channel. Connected and Error are
// independent: a connected channel may still carry the last ERROR message.
type Status struct {
	State     State
	Connected bool
	Error     string
	Attempt   int
}

// Agent is the consumer side of the hub channel. It holds at most one
// transport and at most one pending reconnect at a time.
type Agent struct {
	logger *slog.Logger
	dialer Dialer
	clock  Clock
	cfg    Config

	mu        sync.Mutex
	state     State
	attempt   int
	errMsg    string
	data      *quake.Collection
	lastPong  time.Time
	conn      Transport
	gen       uint64
	retry     Timer
	heartbeat Timer

	changes chan struct{}
}

func New(cfg Config, dialer Dialer, clock Clock, logger *slog.Logger) *Agent {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		logger:  logger,
		dialer:  dialer,
		clock:   clock,
		cfg:     cfg,
		state:   StateDisconnected,
		changes: make(chan struct{}, 1),
	}
}

// Connect starts a connection attempt. It is a no-op while connecting or
// connected; from disconnected it resets the attempt counter.
func (a *Agent) Connect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateDisconnected {
		return
	}
	a.attempt = 0
	a.dialLocked()
}

// Disconnect closes the channel, cancels any pending reconnect and stays
// disconnected until Connect is called again.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	a.gen++
	a.stopTimersLocked()
	t := a.conn
	a.conn = nil
	a.setStateLocked(StateDisconnected)
	a.mu.Unlock()

	closeTransport(t)
	a.logger.Info("hub channel disconnected by owner")
}

// Run connects and blocks until ctx is done, then disconnects.
func (a *Agent) Run(ctx context.Context) {
	a.Connect()
	<-ctx.Done()
	a.Disconnect()
}

// SendMessage writes env if the channel is connected. Otherwise it logs a
// warning and reports false.
func (a *Agent) SendMessage(env realtime.Envelope) bool {
	a.mu.Lock()
	t := a.conn
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected || t == nil {
		a.logger.Warn("hub channel is not connected, dropping message", "type", env.Type)
		return false
	}
	return a.write(t, env)
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		State:     a.state,
		Connected: a.state == StateConnected,
		Error:     a.errMsg,
		Attempt:   a.attempt,
	}
}

// Data returns the latest collection received, or nil.
func (a *Agent) Data() *quake.Collection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data
}

func (a *Agent) LastPong() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPong
}

// Changes signals after any status or data change. Signals coalesce.
func (a *Agent) Changes() <-chan struct{} {
	return a.changes
}

func (a *Agent) dialLocked() {
	a.gen++
	gen := a.gen
	a.setStateLocked(StateConnecting)
	go a.dial(gen)
}

func (a *Agent) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DialTimeout)
	t, err := a.dialer.Dial(ctx, a.cfg.URL)
	cancel()

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		a.logger.Warn("hub channel dial failed", "url", a.cfg.URL, "attempt", a.attempt, "error", err)
		a.errMsg = errConnection
		stale := a.lostLocked()
		a.mu.Unlock()
		closeTransport(stale)
		return
	}

	a.conn = t
	a.attempt = 0
	a.errMsg = ""
	a.setStateLocked(StateConnected)
	a.scheduleHeartbeatLocked(gen)
	a.mu.Unlock()

	a.logger.Info("hub channel connected", "url", a.cfg.URL)
	go a.readLoop(gen, t)
	a.write(t, realtime.NewEnvelope(realtime.KindRequestData, a.clock.Now()))
}

func (a *Agent) readLoop(gen uint64, t Transport) {
	for {
		frame, err := t.ReadMessage()
		if err != nil {
			var stale Transport
			a.mu.Lock()
			if gen == a.gen {
				a.logger.Warn("hub channel lost", "error", err)
				stale = a.lostLocked()
			}
			a.mu.Unlock()
			closeTransport(stale)
			return
		}
		a.handleFrame(gen, frame)
	}
}

// lostLocked handles a close or transport error: schedule the next attempt
// or give up once MaxAttempts is reached. It returns the detached transport,
// which the caller closes after releasing a.mu.
func (a *Agent) lostLocked() Transport {
	a.stopTimersLocked()
	stale := a.conn
	a.conn = nil
	a.gen++

	if a.attempt >= a.cfg.MaxAttempts {
		a.errMsg = errMaxAttempts
		a.setStateLocked(StateDisconnected)
		a.logger.Error("giving up on hub channel", "attempts", a.attempt)
		return stale
	}

	a.attempt++
	delay := Backoff(a.attempt)
	gen := a.gen
	a.retry = a.clock.AfterFunc(delay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.gen {
			return
		}
		a.retry = nil
		a.logger.Info("attempting to reconnect", "attempt", a.attempt, "max", a.cfg.MaxAttempts)
		a.dialLocked()
	})
	a.setStateLocked(StateConnecting)
	a.logger.Info("hub channel reconnect scheduled", "attempt", a.attempt, "delay", delay)
	return stale
}

func closeTransport(t Transport) {
	if t != nil {
		_ = t.Close()
	}
}

func (a *Agent) handleFrame(gen uint64, frame []byte) {
	env, err := realtime.DecodeEnvelope(frame)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	if err != nil {
		a.logger.Warn("dropping malformed frame", "error", err)
		a.errMsg = errParse
		a.notifyLocked()
		return
	}

	switch env.Type {
	case realtime.KindDataSnapshot, realtime.KindDataUpdate:
		var coll quake.Collection
		if err := json.Unmarshal(env.Data, &coll); err != nil {
			a.logger.Warn("dropping undecodable payload", "type", env.Type, "error", err)
			a.errMsg = errParse
			a.notifyLocked()
			return
		}
		a.data = &coll
		a.errMsg = ""
		a.notifyLocked()
	case realtime.KindPong:
		a.lastPong = a.clock.Now()
	case realtime.KindError:
		msg := env.Message
		if msg == "" {
			msg = errUnknownServer
		}
		a.errMsg = msg
		a.notifyLocked()
	default:
		a.logger.Debug("ignoring unknown message type", "type", env.Type)
	}
}

func (a *Agent) scheduleHeartbeatLocked(gen uint64) {
	a.heartbeat = a.clock.AfterFunc(a.cfg.Heartbeat, func() {
		a.mu.Lock()
		if gen != a.gen || a.state != StateConnected || a.conn == nil {
			a.mu.Unlock()
			return
		}
		t := a.conn
		a.scheduleHeartbeatLocked(gen)
		a.mu.Unlock()

		a.write(t, realtime.NewEnvelope(realtime.KindPing, a.clock.Now()))
	})
}

func (a *Agent) stopTimersLocked() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
	if a.heartbeat != nil {
		a.heartbeat.Stop()
		a.heartbeat = nil
	}
}

func (a *Agent) write(t Transport, env realtime.Envelope) bool {
	frame, err := realtime.EncodeEnvelope(env)
	if err != nil {
		a.logger.Error("encode envelope failed", "type", env.Type, "error", err)
		return false
	}
	if err := t.WriteMessage(frame); err != nil {
		a.logger.Warn("hub channel write failed", "type", env.Type, "error", err)
		return false
	}
	return true
}

func (a *Agent) setStateLocked(s State) {
	a.state = s
	a.notifyLocked()
}

func (a *Agent) notifyLocked() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

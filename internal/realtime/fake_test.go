package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	closed  int
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed > 0 {
		return ErrConnClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	var out []Envelope
	for _, f := range c.received() {
		env, err := DecodeEnvelope(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// fakeFetcher returns queued results in order, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   atomic.Int32
	gate    chan struct{}
	queries []quake.Query
}

type fetchResult struct {
	coll *quake.Collection
	err  error
}

func (f *fakeFetcher) FetchEarthquakes(ctx context.Context, q quake.Query) (*quake.Collection, error) {
	n := int(f.calls.Add(1))
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if len(f.results) == 0 {
		return &quake.Collection{Type: "FeatureCollection"}, nil
	}
	idx := n - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	return r.coll, r.err
}

func collectionOf(ids ...string) *quake.Collection {
	c := &quake.Collection{Type: "FeatureCollection", Features: []quake.Earthquake{}}
	for _, id := range ids {
		c.Features = append(c.Features, quake.Earthquake{ID: id})
	}
	return c
}

var errUpstream = errors.New("upstream unavailable")

func newTestHub(f Fetcher) *Hub {
	return NewHub(f, NewRegistry(nil), HubConfig{Interval: time.Hour}, nil)
}

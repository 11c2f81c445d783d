package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/galadrimteam/quakewatch/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{63, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestConnectSendsRequestData(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	a := newTestAgent(d, newFakeClock(), 0)

	a.Connect()
	waitState(t, a, StateConnected)

	require.Eventually(t, func() bool { return len(tr.written(t)) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, realtime.KindRequestData, tr.written(t)[0].Type)

	st := a.Status()
	assert.True(t, st.Connected)
	assert.Empty(t, st.Error)
	assert.Equal(t, 0, st.Attempt)
}

func TestConnectIsNoopWhileConnectingOrConnected(t *testing.T) {
	tr := newFakeTransport()
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	d.push(ok(tr))
	a := newTestAgent(d, newFakeClock(), 0)

	a.Connect()
	require.Eventually(t, func() bool { return d.dials.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, StateConnecting, a.Status().State)

	a.Connect()
	close(gate)
	waitState(t, a, StateConnected)

	a.Connect()
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestReconnectBackoffThenGiveUp(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	a.Connect()
	waitState(t, a, StateConnected)
	tr.drop()

	var delays []time.Duration
	for i := 1; i <= 5; i++ {
		retry := clock.waitPending(t, 0)
		delays = append(delays, retry.d)
		st := a.Status()
		assert.Equal(t, StateConnecting, st.State)
		assert.Equal(t, i, st.Attempt)
		require.True(t, clock.fire(retry))
		require.Eventually(t, func() bool { return int(d.dials.Load()) == i+1 }, time.Second, 2*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return a.Status().Error == "max reconnection attempts reached"
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
	}, delays)
	assert.Equal(t, StateDisconnected, a.Status().State)
	assert.Empty(t, clock.pending(), "no sixth attempt is scheduled")
	assert.EqualValues(t, 6, d.dials.Load())
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(first), dialResult{err: errRefused}, ok(second))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	a.Connect()
	waitState(t, a, StateConnected)
	first.drop()

	clock.fire(clock.waitPending(t, 2*time.Second))
	clock.fire(clock.waitPending(t, 4*time.Second))
	waitState(t, a, StateConnected)

	st := a.Status()
	assert.Equal(t, 0, st.Attempt)
	assert.Empty(t, st.Error)
	require.Eventually(t, func() bool { return len(second.written(t)) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, realtime.KindRequestData, second.written(t)[0].Type)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	a.Connect()
	waitState(t, a, StateConnected)
	tr.drop()

	retry := clock.waitPending(t, 2*time.Second)
	a.Disconnect()

	assert.True(t, retry.isStopped())
	assert.Equal(t, StateDisconnected, a.Status().State)

	// A callback that raced past Stop must still be ignored.
	retry.f()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, d.dials.Load())
	assert.Equal(t, StateDisconnected, a.Status().State)
}

func TestDisconnectClosesLiveTransport(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	a.Connect()
	waitState(t, a, StateConnected)
	a.Disconnect()

	tr.mu.Lock()
	closes := tr.closes
	tr.mu.Unlock()
	assert.Equal(t, 1, closes)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateDisconnected, a.Status().State, "owner disconnect is terminal")
	assert.Empty(t, clock.pending())
}

func TestConnectAfterGivingUpStartsFresh(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 1)

	a.Connect()
	waitState(t, a, StateConnected)
	tr.drop()
	clock.fire(clock.waitPending(t, 2*time.Second))
	require.Eventually(t, func() bool {
		return a.Status().Error == "max reconnection attempts reached"
	}, time.Second, 2*time.Millisecond)

	again := newFakeTransport()
	d.push(ok(again))
	a.Connect()
	waitState(t, a, StateConnected)
	assert.Equal(t, 0, a.Status().Attempt)
	assert.Empty(t, a.Status().Error)
}

func TestInboundMessagesUpdateState(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	a := newTestAgent(d, newFakeClock(), 0)
	a.Connect()
	waitState(t, a, StateConnected)

	push := func(env realtime.Envelope) {
		frame, err := realtime.EncodeEnvelope(env)
		require.NoError(t, err)
		tr.inbound <- frame
	}
	data := func(kind realtime.Kind, ids ...string) realtime.Envelope {
		coll := quake.Collection{Type: "FeatureCollection"}
		for _, id := range ids {
			coll.Features = append(coll.Features, quake.Earthquake{ID: id})
		}
		env, err := realtime.NewDataEnvelope(kind, coll, time.Now())
		require.NoError(t, err)
		return env
	}

	push(data(realtime.KindDataSnapshot, "a", "b"))
	require.Eventually(t, func() bool { return a.Data() != nil }, time.Second, 2*time.Millisecond)
	assert.Len(t, a.Data().Features, 2)

	push(realtime.NewErrorEnvelope("Failed to fetch earthquake data", time.Now()))
	require.Eventually(t, func() bool {
		return a.Status().Error == "Failed to fetch earthquake data"
	}, time.Second, 2*time.Millisecond)
	assert.True(t, a.Status().Connected, "server errors do not drop the channel")
	assert.Len(t, a.Data().Features, 2, "data survives an error")

	push(data(realtime.KindDataUpdate, "c"))
	require.Eventually(t, func() bool { return a.Status().Error == "" }, time.Second, 2*time.Millisecond)
	require.Len(t, a.Data().Features, 1)
	assert.Equal(t, "c", a.Data().Features[0].ID)

	tr.inbound <- []byte("{broken")
	require.Eventually(t, func() bool {
		return a.Status().Error == "failed to parse message"
	}, time.Second, 2*time.Millisecond)
	assert.True(t, a.Status().Connected)

	push(realtime.NewEnvelope(realtime.KindPong, time.Now()))
	require.Eventually(t, func() bool { return !a.LastPong().IsZero() }, time.Second, 2*time.Millisecond)

	tr.inbound <- []byte(`{"type":"SOMETHING_NEW","timestamp":1}`)
	push(data(realtime.KindDataUpdate, "d"))
	require.Eventually(t, func() bool {
		c := a.Data()
		return c != nil && len(c.Features) == 1 && c.Features[0].ID == "d"
	}, time.Second, 2*time.Millisecond)
}

func TestHeartbeatSendsPingWhileConnected(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 0)
	a.Connect()
	waitState(t, a, StateConnected)

	clock.fire(clock.waitPending(t, DefaultHeartbeat))
	require.Eventually(t, func() bool { return len(tr.written(t)) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, realtime.KindPing, tr.written(t)[1].Type)

	next := clock.waitPending(t, DefaultHeartbeat)
	tr.drop()
	require.Eventually(t, next.isStopped, time.Second, 2*time.Millisecond)
}

func TestSendMessageRequiresConnection(t *testing.T) {
	d := &fakeDialer{}
	a := newTestAgent(d, newFakeClock(), 0)

	assert.False(t, a.SendMessage(realtime.NewEnvelope(realtime.KindPing, time.Now())))
	assert.EqualValues(t, 0, d.dials.Load())

	tr := newFakeTransport()
	d.push(ok(tr))
	a.Connect()
	waitState(t, a, StateConnected)
	assert.True(t, a.SendMessage(realtime.NewEnvelope(realtime.KindPing, time.Now())))
}

func TestChangesSignalsCoalesce(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	a := newTestAgent(d, newFakeClock(), 0)

	a.Connect()
	waitState(t, a, StateConnected)

	select {
	case <-a.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestAgentAgainstLiveHub(t *testing.T) {
	fetcher := realtime.FetcherFunc(func(context.Context, quake.Query) (*quake.Collection, error) {
		return &quake.Collection{
			Type:     "FeatureCollection",
			Features: []quake.Earthquake{{ID: "us7000abcd", Magnitude: 6.1}},
		}, nil
	})
	hub := realtime.NewHub(fetcher, realtime.NewRegistry(nil), realtime.HubConfig{Interval: time.Hour}, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := New(Config{URL: url}, WSDialer{}, nil, nil)
	defer a.Disconnect()
	a.Connect()

	require.Eventually(t, func() bool { return a.Data() != nil }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "us7000abcd", a.Data().Features[0].ID)

	raw, err := json.Marshal(a.Data())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"features"`)
	assert.True(t, a.SendMessage(realtime.NewEnvelope(realtime.KindPing, time.Now())))
	require.Eventually(t, func() bool { return !a.LastPong().IsZero() }, 3*time.Second, 10*time.Millisecond)
}

func TestSlowTransportCloseDoesNotBlockStatus(t *testing.T) {
	tr := newFakeTransport()
	tr.closeBlock = make(chan struct{})
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	a.Connect()
	waitState(t, a, StateConnected)
	tr.readErr <- errors.New("connection reset")
	require.Eventually(t, func() bool { return tr.closeCalls.Load() == 1 }, time.Second, 2*time.Millisecond)

	got := make(chan Status, 1)
	go func() { got <- a.Status() }()
	select {
	case st := <-got:
		assert.Equal(t, StateConnecting, st.State)
		assert.Equal(t, 1, st.Attempt)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a closing transport")
	}

	close(tr.closeBlock)
	clock.waitPending(t, 2*time.Second)
}

func TestRunDisconnectsWhenContextEnds(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{}
	d.push(ok(tr))
	clock := newFakeClock()
	a := newTestAgent(d, clock, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	waitState(t, a, StateConnected)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateDisconnected, a.Status().State)
	assert.EqualValues(t, 1, tr.closeCalls.Load())
	assert.Empty(t, clock.pending())
}

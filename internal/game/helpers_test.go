package game

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/playmatatu/duels/internal/lobby"
	"github.com/playmatatu/duels/internal/matchid"
	"github.com/playmatatu/duels/internal/models"
	"github.com/playmatatu/duels/internal/settlement"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves time forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type frame struct {
	event string
	data  map[string]interface{}
}

type fakeConn struct {
	mu          sync.Mutex
	frames      []frame
	closed      bool
	closeCode   int
	closeReason string
}

func (c *fakeConn) Send(event string, data interface{}) {
	b, _ := json.Marshal(data)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{event: event, data: m})
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].event == event {
			return c.frames[i].data
		}
	}
	return nil
}

func (c *fakeConn) messages(event string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		if f.event == event {
			if msg, ok := f.data["message"].(string); ok {
				out = append(out, msg)
			}
		}
	}
	return out
}

type fakeSettler struct {
	mu         sync.Mutex
	starts     int
	startRes   settlement.StartResult
	startErr   error
	startDelay time.Duration
	resolved   []settlement.Outcome
	resolveErr error
	hold       chan struct{}
}

func (f *fakeSettler) StartMatch(_ context.Context, _, _ int, _ float64, _, _ string) (settlement.StartResult, error) {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return settlement.StartResult{}, f.startErr
	}
	res := f.startRes
	if res.MatchID == 0 {
		res.MatchID = 77
	}
	res.AlreadyExisted = f.starts > 1
	return res, nil
}

func (f *fakeSettler) Resolve(_ context.Context, o settlement.Outcome) error {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, o)
	return f.resolveErr
}

func (f *fakeSettler) outcomes() []settlement.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settlement.Outcome(nil), f.resolved...)
}

func (f *fakeSettler) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	settler  *fakeSettler
	handoffs *lobby.HandoffStore
	mgr      *Manager
	id       matchid.ID
	settings Settings
}

func newHarness(t *testing.T, gameKey string) *harness {
	t.Helper()
	ctx := context.Background()
	gt, ok := models.GameTypeByKey(gameKey)
	require.True(t, ok)

	id := matchid.New(gameKey, 10)
	store := lobby.NewHandoffStore(nil, time.Hour)
	store.Put(ctx, &lobby.Handoff{
		MatchID:    id.String(),
		GameKey:    gameKey,
		GameTypeID: gt.ID,
		Stake:      10,
		PlayerOne:  lobby.Participant{ID: 1, Name: "alice"},
		PlayerTwo:  lobby.Participant{ID: 2, Name: "bob"},
	})

	settings := DefaultSettings()
	clock := newFakeClock()
	settler := &fakeSettler{}
	mgr := NewManager(store, settler, settings)
	mgr.clock = clock

	return &harness{t: t, ctx: ctx, clock: clock, settler: settler, handoffs: store, mgr: mgr, id: id, settings: settings}
}

func (h *harness) join(playerID int) (*Session, *fakeConn) {
	h.t.Helper()
	s, err := h.mgr.Join(h.ctx, h.id, playerID)
	require.NoError(h.t, err)
	c := &fakeConn{}
	require.NoError(h.t, s.Attach(playerID, c))
	flush(s)
	return s, c
}

func (h *harness) reattach(s *Session, playerID int) *fakeConn {
	h.t.Helper()
	c := &fakeConn{}
	require.NoError(h.t, s.Attach(playerID, c))
	flush(s)
	return c
}

func (h *harness) advance(s *Session, d time.Duration) {
	h.clock.Advance(d)
	flush(s)
}

func send(s *Session, playerID int, c *fakeConn, event string, data interface{}) {
	b, _ := json.Marshal(map[string]interface{}{"event": event, "data": data})
	s.Deliver(playerID, c, b)
	flush(s)
}

func detach(s *Session, playerID int, c *fakeConn) {
	s.Detach(playerID, c)
	flush(s)
}

// flush waits until everything queued on the session so far has run.
func flush(s *Session) {
	s.call(func() {})
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

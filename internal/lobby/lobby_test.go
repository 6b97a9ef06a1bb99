package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/playmatatu/duels/internal/matchid"
	"github.com/playmatatu/duels/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu       sync.Mutex
	balances map[int]float64
	failing  map[int]bool
	stalled  map[int]bool
}

func newFakeDirectory(balances map[int]float64) *fakeDirectory {
	return &fakeDirectory{balances: balances, failing: make(map[int]bool), stalled: make(map[int]bool)}
}

func (d *fakeDirectory) FindByID(_ context.Context, id int) (*models.Player, error) {
	if id == 404 {
		return nil, errors.New("not found")
	}
	return &models.Player{ID: id, Username: fmt.Sprintf("user%d", id)}, nil
}

func (d *fakeDirectory) Balance(ctx context.Context, id int) (float64, error) {
	d.mu.Lock()
	stalled := d.stalled[id]
	d.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[id] {
		return 0, errors.New("wallet service down")
	}
	return d.balances[id], nil
}

func (d *fakeDirectory) set(id int, v float64) {
	d.mu.Lock()
	d.balances[id] = v
	d.mu.Unlock()
}

type sent struct {
	playerID int
	event    string
	payload  interface{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *fakeNotifier) SendToUser(playerID int, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{playerID, event, payload})
}

func (n *fakeNotifier) events(event string) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newTestMatcher(balances map[int]float64) (*Matcher, *fakeDirectory, *fakeNotifier) {
	dir := newFakeDirectory(balances)
	n := &fakeNotifier{}
	return NewMatcher(dir, n, NewHandoffStore(nil, time.Hour)), dir, n
}

func TestValidateRequest(t *testing.T) {
	_, err := ValidateRequest(99, 10, 0)
	assert.ErrorIs(t, err, ErrUnknownGameType)

	_, err = ValidateRequest(2, 10, 0)
	assert.ErrorIs(t, err, ErrUnknownGameType, "battleships is reserved")

	_, err = ValidateRequest(1, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = ValidateRequest(1, 10, -1)
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = ValidateRequest(1, 10, 10)
	assert.ErrorIs(t, err, ErrInvalidFee)

	gt, err := ValidateRequest(3, 10, 9)
	require.NoError(t, err)
	assert.Equal(t, models.GameKeyMinesweeper, gt.Key)
}

func TestFindOrCreateOpensRoom(t *testing.T) {
	m, _, n := newTestMatcher(map[int]float64{1: 50})

	res, err := m.FindOrCreate(context.Background(), 1, 1, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Equal(t, "No suitable match found. Created a new waiting room for you.", res.Message)
	require.NotNil(t, res.Room)
	assert.Equal(t, 1, res.Room.CreatorID)
	assert.Equal(t, 10, res.Room.Fee)

	id, err := matchid.Parse(res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameKeyRockPaperScissors, id.GameKey)
	assert.Equal(t, 10, id.Fee)

	assert.Len(t, m.GetLobbies()[1], 1)
	assert.Empty(t, n.events(EventMatchFound))
}

func TestFindOrCreateAlreadyWaiting(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{1: 50})
	ctx := context.Background()

	first, err := m.FindOrCreate(ctx, 1, 1, 10, 0)
	require.NoError(t, err)

	again, err := m.FindOrCreate(ctx, 1, 1, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyWaiting, again.Status)
	assert.Equal(t, "You are already in a waiting room for this game type.", again.Message)
	assert.Equal(t, first.Room.ID, again.Room.ID)
	assert.Len(t, m.GetLobbies()[1], 1)

	other, err := m.FindOrCreate(ctx, 1, 3, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, other.Status, "a different game type gets its own room")
}

func TestFindOrCreateInsufficientBalance(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{1: 5})

	_, err := m.FindOrCreate(context.Background(), 1, 1, 10, 0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, m.GetLobbies())
}

func TestFindOrCreateMatchesWithinBand(t *testing.T) {
	m, _, n := newTestMatcher(map[int]float64{1: 50, 2: 50})
	ctx := context.Background()

	open, err := m.FindOrCreate(ctx, 1, 1, 12, 0)
	require.NoError(t, err)

	res, err := m.FindOrCreate(ctx, 2, 1, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "Match successfully created!", res.Message)
	require.NotNil(t, res.Match)
	assert.Equal(t, open.Room.ID, res.Match.MatchID)
	assert.Equal(t, 1, res.Match.PlayerOneID)
	assert.Equal(t, 2, res.Match.PlayerTwoID)
	assert.Equal(t, 12, res.Match.EntryFee, "the room's fee wins over the joiner's target")
	assert.Equal(t, "user1", res.Match.PlayerOneName)

	assert.Empty(t, m.GetLobbies()[1])

	found := n.events(EventMatchFound)
	require.Len(t, found, 2)
	assert.ElementsMatch(t, []int{1, 2}, []int{found[0].playerID, found[1].playerID})

	h, ok := m.Handoffs().Get(ctx, open.Room.ID)
	require.True(t, ok)
	assert.Equal(t, 12.0, h.Stake)
	assert.Equal(t, models.GameKeyRockPaperScissors, h.GameKey)
	assert.True(t, h.Has(1))
	assert.True(t, h.Has(2))
	require.NoError(t, h.Validate())
}

func TestFindOrCreateOutsideBandOpensSecondRoom(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{1: 50, 2: 50})
	ctx := context.Background()

	_, err := m.FindOrCreate(ctx, 1, 1, 20, 0)
	require.NoError(t, err)

	res, err := m.FindOrCreate(ctx, 2, 1, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Len(t, m.GetLobbies()[1], 2)
}

func TestFindOrCreateFirstFitInInsertionOrder(t *testing.T) {
	m, dir, _ := newTestMatcher(map[int]float64{1: 50, 2: 50, 3: 50, 4: 50})
	ctx := context.Background()

	a, _ := m.FindOrCreate(ctx, 1, 1, 9, 0)
	b, _ := m.FindOrCreate(ctx, 2, 1, 10, 0)
	_, _ = m.FindOrCreate(ctx, 3, 1, 11, 0)

	// creator of the oldest compatible room went broke
	dir.set(1, 0)

	res, err := m.FindOrCreate(ctx, 4, 1, 10, 1)
	require.NoError(t, err)
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, b.Room.ID, res.Match.MatchID)

	rooms := m.GetLobbies()[1]
	require.Len(t, rooms, 2)
	assert.Equal(t, a.Room.ID, rooms[0].ID, "skipped room stays in place")
}

func TestFindOrCreateSkipsRoomsCallerCannotAfford(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{1: 50, 2: 10})
	ctx := context.Background()

	_, _ = m.FindOrCreate(ctx, 1, 1, 12, 0)

	res, err := m.FindOrCreate(ctx, 2, 1, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Len(t, m.GetLobbies()[1], 2)
}

func TestFindOrCreateSkipsCreatorWithFailingWallet(t *testing.T) {
	m, dir, _ := newTestMatcher(map[int]float64{1: 50, 2: 50})
	ctx := context.Background()

	_, _ = m.FindOrCreate(ctx, 1, 1, 10, 0)
	dir.mu.Lock()
	dir.failing[1] = true
	dir.mu.Unlock()

	res, err := m.FindOrCreate(ctx, 2, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
}

func TestFindOrCreateBoundsStalledWalletLookup(t *testing.T) {
	m, dir, _ := newTestMatcher(map[int]float64{1: 50, 2: 50})
	m.balanceTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, _ = m.FindOrCreate(ctx, 1, 1, 10, 0)
	dir.mu.Lock()
	dir.stalled[1] = true
	dir.mu.Unlock()

	start := time.Now()
	res, err := m.FindOrCreate(ctx, 2, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Less(t, time.Since(start), time.Second)

	// the matcher is not left locked after the stalled lookup
	res, err = m.FindOrCreate(ctx, 2, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyWaiting, res.Status)
}

func TestFindOrCreateNameFallback(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{404: 50, 2: 50})
	ctx := context.Background()

	_, _ = m.FindOrCreate(ctx, 404, 1, 10, 0)
	res, err := m.FindOrCreate(ctx, 2, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "Player 404", res.Match.PlayerOneName)
}

func TestConcurrentRequestsPairExactlyOnce(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		m, _, n := newTestMatcher(map[int]float64{1: 100, 2: 100})
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]Result, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = m.FindOrCreate(ctx, i+1, 1, 10+i, 1)
			}(i)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		statuses := []string{results[0].Status, results[1].Status}
		assert.ElementsMatch(t, []string{StatusWaiting, StatusMatched}, statuses)
		assert.Empty(t, m.GetLobbies()[1], "no leftover room")
		assert.Len(t, n.events(EventMatchFound), 2)
	}
}

func TestConcurrentJoinersOnlyOneTakesTheRoom(t *testing.T) {
	balances := map[int]float64{1: 100}
	for i := 2; i <= 21; i++ {
		balances[i] = 100
	}
	m, _, n := newTestMatcher(balances)
	ctx := context.Background()

	open, err := m.FindOrCreate(ctx, 1, 1, 10, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 2; i <= 21; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := m.FindOrCreate(ctx, id, 1, 10, 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pairsOnFirst := 0
	for _, s := range n.events(EventMatchFound) {
		if mf := s.payload.(*MatchFound); mf.MatchID == open.Room.ID && s.playerID == 1 {
			pairsOnFirst++
		}
	}
	assert.Equal(t, 1, pairsOnFirst)
	// 20 joiners: one takes the first room, the remaining 19 pair among themselves leaving one room
	assert.Len(t, m.GetLobbies()[1], 1)
}

func TestLeave(t *testing.T) {
	m, _, _ := newTestMatcher(map[int]float64{1: 50})
	ctx := context.Background()

	_, _ = m.FindOrCreate(ctx, 1, 1, 10, 0)
	assert.True(t, m.Leave(ctx, 1, 1))
	assert.False(t, m.Leave(ctx, 1, 1))
	assert.Empty(t, m.GetLobbies()[1])
}

func TestSweepExpiresOldRooms(t *testing.T) {
	m, _, n := newTestMatcher(map[int]float64{1: 50, 2: 50})
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, _ := m.FindOrCreate(ctx, 1, 1, 10, 0)
	now = now.Add(9 * time.Minute)
	fresh, _ := m.FindOrCreate(ctx, 2, 3, 10, 0)
	now = now.Add(2 * time.Minute)

	expired := m.Sweep(ctx, 10*time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, old.Room.ID, expired[0].ID)

	lobbies := m.GetLobbies()
	assert.Empty(t, lobbies[1])
	require.Len(t, lobbies[3], 1)
	assert.Equal(t, fresh.Room.ID, lobbies[3][0].ID)

	notices := n.events(EventLobbyExpired)
	require.Len(t, notices, 1)
	assert.Equal(t, 1, notices[0].playerID)
}

func TestHandoffStoreCacheFallback(t *testing.T) {
	cache := newMemCache()
	ctx := context.Background()
	h := &Handoff{
		MatchID:    "rps-10-uuid-6f1c1a52-2b51-4c8e-9a2a-0b7f1f0f2d11",
		GameKey:    "rps",
		GameTypeID: 1,
		Stake:      10,
		PlayerOne:  Participant{ID: 1, Name: "a"},
		PlayerTwo:  Participant{ID: 2, Name: "b"},
	}

	NewHandoffStore(cache, time.Hour).Put(ctx, h)

	// a fresh store sees what a previous process wrote
	restarted := NewHandoffStore(cache, time.Hour)
	got, ok := restarted.Get(ctx, h.MatchID)
	require.True(t, ok)
	assert.Equal(t, h.PlayerTwo, got.PlayerTwo)
	assert.Equal(t, 10.0, got.Stake)

	restarted.Forget(ctx, h.MatchID)
	_, ok = restarted.Get(ctx, h.MatchID)
	assert.False(t, ok)
}

func TestHandoffValidate(t *testing.T) {
	ok := Handoff{GameKey: "rps", Stake: 1, PlayerOne: Participant{ID: 1}, PlayerTwo: Participant{ID: 2}}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.PlayerTwo.ID = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidHandoff)

	bad = ok
	bad.PlayerTwo.ID = 1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidHandoff)

	bad = ok
	bad.Stake = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidHandoff)

	bad = ok
	bad.GameKey = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidHandoff)

	var nilHandoff *Handoff
	assert.ErrorIs(t, nilHandoff.Validate(), ErrInvalidHandoff)
}

package exchange

import (
	"context"
	"fmt"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"haine/internal/apperr"
	"haine/internal/metrics"
	"haine/internal/model"
	"haine/internal/repository/memory"
	"haine/internal/service/notify"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type knownUsers map[int64]bool

func (k knownUsers) RequireUser(_ context.Context, id int64) error {
	if !k[id] {
		return apperr.UserNotFound(id)
	}
	return nil
}

type fixture struct {
	coord   *Coordinator
	store   *memory.ExchangeRepo
	hub     *notify.Hub
	metrics *metrics.Metrics
}

func newFixture() *fixture {
	store := memory.New().Exchanges()
	hub := notify.NewHub()
	m := metrics.NewNop()
	return &fixture{
		coord:   NewCoordinator(store, knownUsers{1: true, 2: true, 3: true}, hub, m),
		store:   store,
		hub:     hub,
		metrics: m,
	}
}

func (f *fixture) all(t *testing.T, userID int64) []*model.Exchange {
	t.Helper()
	res, err := f.store.After(context.Background(), userID, 0)
	require.NoError(t, err)
	return res
}

func TestProposeThenRespond(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	e, err := f.coord.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: "AAA", ToID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.FromID)
	assert.Equal(t, int64(2), e.ToID)
	assert.Equal(t, "AAA", e.PublicFrom)
	assert.Equal(t, "", e.PublicTo)
	assert.Equal(t, int64(1), e.LastEditor)
	proposedAt := e.LastUpd

	e, err = f.coord.Commit(ctx, 2, CommitRequest{P: "23", G: "5", Public: "BBB", ToID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.FromID)
	assert.Equal(t, int64(2), e.ToID)
	assert.Equal(t, "AAA", e.PublicFrom)
	assert.Equal(t, "BBB", e.PublicTo)
	assert.Equal(t, int64(2), e.LastEditor)
	assert.Greater(t, e.LastUpd, proposedAt)

	assert.Len(t, f.all(t, 1), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExchangeCommits.WithLabelValues(metrics.ExchangeProposed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExchangeCommits.WithLabelValues(metrics.ExchangeResponded)))
}

func TestResubmissionOverwrites(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	commits := []struct {
		caller int64
		to     int64
		public string
	}{
		{1, 2, "A1"},
		{2, 1, "B1"},
		{1, 2, "A2"},
		{2, 1, "B2"},
		{2, 1, "B3"},
		{1, 2, "A3"},
	}
	for _, c := range commits {
		_, err := f.coord.Commit(ctx, c.caller, CommitRequest{P: "23", G: "5", Public: c.public, ToID: c.to})
		require.NoError(t, err)
	}

	records := f.all(t, 1)
	require.Len(t, records, 1)
	assert.Equal(t, "A3", records[0].PublicFrom)
	assert.Equal(t, "B3", records[0].PublicTo)
	assert.Equal(t, int64(1), records[0].LastEditor)
}

func TestLastWriteWinsUnderInterleaving(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			rnd := rand.New(rand.NewSource(seed))

			_, err := f.coord.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: "A0", ToID: 2})
			require.NoError(t, err)

			lastFrom, lastTo := "A0", ""
			for i := 1; i <= 30; i++ {
				if rnd.Intn(2) == 0 {
					lastFrom = fmt.Sprintf("A%d", i)
					_, err = f.coord.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: lastFrom, ToID: 2})
				} else {
					lastTo = fmt.Sprintf("B%d", i)
					_, err = f.coord.Commit(ctx, 2, CommitRequest{P: "23", G: "5", Public: lastTo, ToID: 1})
				}
				require.NoError(t, err)
			}

			records := f.all(t, 2)
			require.Len(t, records, 1)
			assert.Equal(t, lastFrom, records[0].PublicFrom)
			assert.Equal(t, lastTo, records[0].PublicTo)
		})
	}
}

func TestConcurrentCommitsProduceOneRecord(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture()
		ctx := context.Background()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, c := range []struct {
			caller, to int64
			public     string
		}{{1, 2, "AAA"}, {2, 1, "BBB"}} {
			wg.Add(1)
			go func(caller, to int64, public string) {
				defer wg.Done()
				<-start
				_, err := f.coord.Commit(ctx, caller, CommitRequest{P: "23", G: "5", Public: public, ToID: to})
				assert.NoError(t, err)
			}(c.caller, c.to, c.public)
		}
		close(start)
		wg.Wait()

		records := f.all(t, 1)
		require.Len(t, records, 1)
		e := records[0]
		assert.ElementsMatch(t, []int64{1, 2}, []int64{e.FromID, e.ToID})
		assert.NotEmpty(t, e.PublicFrom)
		assert.NotEmpty(t, e.PublicTo)
		assert.Equal(t, 0, f.coord.locks.size())
	}
}

// stallingStore holds every Respond until a second one arrives or a short
// timeout passes, widening the gap between Respond and Propose.
type stallingStore struct {
	*memory.ExchangeRepo
	arrived atomic.Int32
}

func (s *stallingStore) Respond(ctx context.Context, key model.ExchangeKey, responder int64, public string) (*model.Exchange, error) {
	e, err := s.ExchangeRepo.Respond(ctx, key, responder, public)
	s.arrived.Add(1)
	deadline := time.Now().Add(100 * time.Millisecond)
	for s.arrived.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return e, err
}

func TestCommitsThroughSeparateCoordinatorsProduceOneRecord(t *testing.T) {
	for i := 0; i < 5; i++ {
		db := memory.New()
		store := &stallingStore{ExchangeRepo: db.Exchanges()}
		users := knownUsers{1: true, 2: true}
		m := metrics.NewNop()
		first := NewCoordinator(store, users, notify.NewHub(), m, WithPairLocker(db.PairLocks()))
		second := NewCoordinator(store, users, notify.NewHub(), m, WithPairLocker(db.PairLocks()))
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := first.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: "AAA", ToID: 2})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := second.Commit(ctx, 2, CommitRequest{P: "23", G: "5", Public: "BBB", ToID: 1})
			assert.NoError(t, err)
		}()
		wg.Wait()

		records, err := store.After(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.ElementsMatch(t, []string{"AAA", "BBB"}, []string{records[0].PublicFrom, records[0].PublicTo})
	}
}

type failingLocker struct{}

func (failingLocker) LockPair(context.Context, model.PairKey) (func(), error) {
	return nil, errors.New("lock store down")
}

func TestCommitFailsWhenPairCannotBeLocked(t *testing.T) {
	store := memory.New().Exchanges()
	coord := NewCoordinator(store, knownUsers{1: true, 2: true}, notify.NewHub(), metrics.NewNop(), WithPairLocker(failingLocker{}))

	_, err := coord.Commit(context.Background(), 1, CommitRequest{P: "23", G: "5", Public: "AAA", ToID: 2})
	require.Error(t, err)

	res, err := store.After(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, 0, coord.locks.size())
}

func TestDistinctParamsCreateIndependentRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.coord.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: "AAA", ToID: 2})
	require.NoError(t, err)
	_, err = f.coord.Commit(ctx, 1, CommitRequest{P: "29", G: "2", Public: "CCC", ToID: 2})
	require.NoError(t, err)
	_, err = f.coord.Commit(ctx, 2, CommitRequest{P: "29", G: "2", Public: "DDD", ToID: 1})
	require.NoError(t, err)

	records := f.all(t, 2)
	require.Len(t, records, 2)
	byP := map[string]*model.Exchange{}
	for _, e := range records {
		byP[e.P] = e
	}
	assert.Equal(t, "", byP["23"].PublicTo)
	assert.Equal(t, "DDD", byP["29"].PublicTo)
}

func TestCanonicalParamsMatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.coord.Commit(ctx, 1, CommitRequest{P: "023", G: "+5", Public: "AAA", ToID: 2})
	require.NoError(t, err)
	e, err := f.coord.Commit(ctx, 2, CommitRequest{P: "23", G: "5", Public: "BBB", ToID: 1})
	require.NoError(t, err)

	assert.Equal(t, "23", e.P)
	assert.Equal(t, "5", e.G)
	assert.Equal(t, "BBB", e.PublicTo)
	assert.Len(t, f.all(t, 1), 1)
}

func TestCommitValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  CommitRequest
		code int
	}{
		{"bad p", CommitRequest{P: "x", G: "5", Public: "A", ToID: 2}, apperr.CodeInvalidParam},
		{"zero p", CommitRequest{P: "0", G: "5", Public: "A", ToID: 2}, apperr.CodeInvalidParam},
		{"negative g", CommitRequest{P: "23", G: "-5", Public: "A", ToID: 2}, apperr.CodeInvalidParam},
		{"no public", CommitRequest{P: "23", G: "5", ToID: 2}, apperr.CodeMissingParam},
		{"self", CommitRequest{P: "23", G: "5", Public: "A", ToID: 1}, apperr.CodeInvalidParam},
		{"unknown target", CommitRequest{P: "23", G: "5", Public: "A", ToID: 9}, apperr.CodeUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Commit(ctx, 1, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.From(err).Code)
		})
	}
	assert.Empty(t, f.all(t, 1))
}

func TestCommitNotifiesBothParties(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, cancelA := f.hub.Subscribe(1)
	defer cancelA()
	b, cancelB := f.hub.Subscribe(2)
	defer cancelB()

	_, err := f.coord.Commit(ctx, 1, CommitRequest{P: "23", G: "5", Public: "AAA", ToID: 2})
	require.NoError(t, err)

	for _, ch := range []<-chan struct{}{a, b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("no wakeup")
		}
	}
}

func TestKeyedMutexDistinctKeysDoNotBlock(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(model.NewPairKey("23", "5", 1, 2))
	defer unlock()

	done := make(chan struct{})
	go func() {
		k.Lock(model.NewPairKey("23", "5", 1, 3))()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key blocked")
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(model.NewPairKey("23", "5", 2, 1))

	acquired := make(chan struct{})
	go func() {
		k.Lock(model.NewPairKey("23", "5", 1, 2))()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("same pair acquired twice")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}
	assert.Equal(t, 0, k.size())
}

package feed

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thomaskoefod/hnreadr/internal/database"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu    sync.Mutex
	ids   map[models.FeedCategory][]int64
	fail  map[models.FeedCategory]error
	block map[models.FeedCategory]chan struct{}
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ids:   map[models.FeedCategory][]int64{},
		fail:  map[models.FeedCategory]error{},
		block: map[models.FeedCategory]chan struct{}{},
	}
}

func (s *fakeSource) Fetch(ctx context.Context, category models.FeedCategory, limit int) (models.FeedFetch, error) {
	s.mu.Lock()
	s.calls++
	ids, err, block := s.ids[category], s.fail[category], s.block[category]
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.FeedFetch{}, ctx.Err()
		}
	}
	if err != nil {
		return models.FeedFetch{}, err
	}
	out := models.FeedFetch{Category: category, IDs: ids}
	for i, id := range ids {
		if limit > 0 && i >= limit {
			break
		}
		out.Stories = append(out.Stories, models.Story{ID: id, Title: "story"})
	}
	return out, nil
}

func testStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func startFetcher(t *testing.T, f *Fetcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func waitUpdate(t *testing.T, f *Fetcher) Update {
	t.Helper()
	select {
	case u := <-f.Updates():
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
		return Update{}
	}
}

func TestRefreshStoresThroughWriterLoop(t *testing.T) {
	src := newFakeSource()
	src.ids[models.FeedTop] = []int64{5, 1, 9}
	db := testStore(t)
	f := NewFetcher(src, db, WithPageSize(2))
	startFetcher(t, f)

	f.Refresh(context.Background(), models.FeedTop)
	u := waitUpdate(t, f)
	require.NoError(t, u.Err)
	assert.Equal(t, models.FeedTop, u.Category)
	assert.Equal(t, 3, u.Stories)

	ids, err := db.Membership(context.Background(), models.FeedTop)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 9}, ids)

	stories, err := db.FeedStories(context.Background(), models.FeedTop, 0, 0)
	require.NoError(t, err)
	assert.Len(t, stories, 2, "only the first page carries payloads")

	fetchedAt, err := db.FetchedAt(context.Background(), models.FeedTop)
	require.NoError(t, err)
	assert.NotNil(t, fetchedAt)
}

func TestRefreshFailureKeepsPreviousState(t *testing.T) {
	src := newFakeSource()
	src.ids[models.FeedNew] = []int64{1, 2}
	db := testStore(t)
	f := NewFetcher(src, db)
	startFetcher(t, f)

	f.Refresh(context.Background(), models.FeedNew)
	require.NoError(t, waitUpdate(t, f).Err)

	boom := errors.New("connection reset")
	src.mu.Lock()
	src.fail[models.FeedNew] = boom
	src.mu.Unlock()

	f.Refresh(context.Background(), models.FeedNew)
	u := waitUpdate(t, f)
	assert.ErrorIs(t, u.Err, boom)

	ids, err := db.Membership(context.Background(), models.FeedNew)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestCancelledRefreshNeverReachesStore(t *testing.T) {
	src := newFakeSource()
	src.ids[models.FeedBest] = []int64{7}
	src.block[models.FeedBest] = make(chan struct{})
	db := testStore(t)
	f := NewFetcher(src, db)
	startFetcher(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	f.Refresh(ctx, models.FeedBest)
	cancel()

	select {
	case u := <-f.Updates():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(100 * time.Millisecond):
	}

	fetchedAt, err := db.FetchedAt(context.Background(), models.FeedBest)
	require.NoError(t, err)
	assert.Nil(t, fetchedAt)
}

func TestNewerRefreshSupersedesOlder(t *testing.T) {
	src := newFakeSource()
	src.ids[models.FeedAsk] = []int64{3}
	release := make(chan struct{})
	src.block[models.FeedAsk] = release
	db := testStore(t)
	f := NewFetcher(src, db)
	startFetcher(t, f)

	f.Refresh(context.Background(), models.FeedAsk)
	f.Refresh(context.Background(), models.FeedAsk)
	close(release)

	u := waitUpdate(t, f)
	require.NoError(t, u.Err)
	select {
	case u := <-f.Updates():
		t.Fatalf("superseded refresh delivered %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunStopsInflightFetches(t *testing.T) {
	src := newFakeSource()
	src.block[models.FeedShow] = make(chan struct{})
	f := NewFetcher(src, testStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	f.Refresh(context.Background(), models.FeedShow)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, open := <-f.Updates()
	assert.False(t, open)

	f.Refresh(context.Background(), models.FeedShow)
}

func TestFetchAllJoinsErrors(t *testing.T) {
	src := newFakeSource()
	src.ids[models.FeedTop] = []int64{1}
	src.ids[models.FeedNew] = []int64{2, 3}
	boom := errors.New("timeout")
	src.fail[models.FeedJobs] = boom
	db := testStore(t)
	f := NewFetcher(src, db)

	counts, err := f.FetchAll(context.Background(),
		[]models.FeedCategory{models.FeedTop, models.FeedNew, models.FeedJobs, models.FeedFavorites})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[models.FeedCategory]int{models.FeedTop: 1, models.FeedNew: 2}, counts)
	assert.Equal(t, 3, src.calls, "favorites is never fetched")

	ids, err := db.Membership(context.Background(), models.FeedNew)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

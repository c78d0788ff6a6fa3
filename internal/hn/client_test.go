package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// fakeAPI serves a fixed set of items and listings.
type fakeAPI struct {
	mu       sync.Mutex
	items    map[int64]Item
	listings map[string][]int64
	hits     map[string]int
	failing  map[int64]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		items:    map[int64]Item{},
		listings: map[string][]int64{},
		hits:     map[string]int{},
		failing:  map[int64]bool{},
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[r.URL.Path]++

	path := strings.TrimSuffix(r.URL.Path, ".json")
	if ids, ok := f.listings[strings.TrimPrefix(path, "/")]; ok {
		json.NewEncoder(w).Encode(ids)
		return
	}
	var id int64
	if _, err := fmt.Sscanf(path, "/item/%d", &id); err != nil {
		http.NotFound(w, r)
		return
	}
	if f.failing[id] {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}
	it, ok := f.items[id]
	if !ok {
		w.Write([]byte("null"))
		return
	}
	json.NewEncoder(w).Encode(it)
}

func (f *fakeAPI) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(append([]Option{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)...)
}

func TestFeedIDs(t *testing.T) {
	api := newFakeAPI()
	api.listings["topstories"] = []int64{5, 1, 9}
	c := newTestClient(t, api)

	ids, err := c.FeedIDs(context.Background(), models.FeedTop)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 9}, ids)

	_, err = c.FeedIDs(context.Background(), models.FeedFavorites)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestFeedIDsStatusError(t *testing.T) {
	c := newTestClient(t, newFakeAPI())

	_, err := c.FeedIDs(context.Background(), models.FeedAsk)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestStoriesSkipsBrokenItems(t *testing.T) {
	api := newFakeAPI()
	api.items[1] = Item{ID: 1, Type: "story", Title: "one", Time: 1700000000, Kids: []int64{10}}
	api.items[2] = Item{ID: 2, Type: "story", Title: "dead", Dead: true}
	api.items[3] = Item{ID: 3, Type: "comment", Text: "not a story"}
	api.items[4] = Item{ID: 4, Type: "job", Title: "hiring"}
	api.failing[5] = true
	c := newTestClient(t, api)

	stories, err := c.Stories(context.Background(), []int64{4, 1, 2, 3, 5, 6})
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, int64(4), stories[0].ID)
	assert.Equal(t, int64(1), stories[1].ID)
	assert.Equal(t, []int64{10}, stories[1].Kids)
	assert.Equal(t, int64(1700000000), stories[1].PostedAt.Unix())
}

func TestStory(t *testing.T) {
	api := newFakeAPI()
	api.items[100] = Item{ID: 100, Type: "story", Title: "root", Kids: []int64{200}}
	api.items[200] = Item{ID: 200, Type: "comment", Parent: 100}
	c := newTestClient(t, api)
	ctx := context.Background()

	s, err := c.Story(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []int64{200}, s.Kids)

	s, err = c.Story(ctx, 200)
	require.NoError(t, err)
	assert.Nil(t, s, "comments are not stories")

	s, err = c.Story(ctx, 300)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestItemCache(t *testing.T) {
	api := newFakeAPI()
	api.items[1] = Item{ID: 1, Type: "story", Title: "one"}
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newTestClient(t, api, WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Item(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.hitCount("/item/1.json"))

	mu.Lock()
	now = now.Add(DefaultCacheTTL)
	mu.Unlock()
	_, err := c.Item(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, api.hitCount("/item/1.json"))
}

func TestFetchLimitsPayloads(t *testing.T) {
	api := newFakeAPI()
	api.listings["newstories"] = []int64{3, 2, 1}
	for id := int64(1); id <= 3; id++ {
		api.items[id] = Item{ID: id, Type: "story", Title: fmt.Sprint(id)}
	}
	c := newTestClient(t, api)

	fetch, err := c.Fetch(context.Background(), models.FeedNew, 2)
	require.NoError(t, err)
	assert.Equal(t, models.FeedNew, fetch.Category)
	assert.Equal(t, []int64{3, 2, 1}, fetch.IDs)
	require.Len(t, fetch.Stories, 2)
	assert.Equal(t, 0, api.hitCount("/item/1.json"))
}

func TestCommentsBreadthFirstWithDepth(t *testing.T) {
	api := newFakeAPI()
	api.items[10] = Item{ID: 10, Type: "comment", Parent: 1, Text: "a", Kids: []int64{12}}
	api.items[11] = Item{ID: 11, Type: "comment", Parent: 1, Text: "b", Deleted: true, Kids: []int64{13}}
	api.items[12] = Item{ID: 12, Type: "comment", Parent: 10, Text: "a.a", Kids: []int64{14}}
	api.items[13] = Item{ID: 13, Type: "comment", Parent: 11, Text: "orphaned"}
	api.items[14] = Item{ID: 14, Type: "comment", Parent: 12, Text: "too deep"}
	c := newTestClient(t, api)

	story := &models.Story{ID: 1, Kids: []int64{10, 11}}
	comments, err := c.Comments(context.Background(), story, 1)
	require.NoError(t, err)

	require.Len(t, comments, 2)
	assert.Equal(t, int64(10), comments[0].ID)
	assert.Equal(t, 0, comments[0].Depth)
	assert.Equal(t, int64(12), comments[1].ID)
	assert.Equal(t, 1, comments[1].Depth)
	assert.Equal(t, int64(1), comments[1].StoryID)
	assert.Equal(t, int64(10), comments[1].ParentID)
	assert.Equal(t, 0, api.hitCount("/item/14.json"))
}

func TestItemsStopOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	c := NewClient(WithBaseURL(srv.URL), WithCacheTTL(0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Stories(ctx, []int64{1, 2, 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, calls.Load())
}

func TestPage(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	assert.Equal(t, []int64{1, 2}, Page(ids, 0, 2))
	assert.Equal(t, []int64{5}, Page(ids, 2, 2))
	assert.Nil(t, Page(ids, 3, 2))
	assert.Equal(t, ids, Page(ids, 0, 0))
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// Source produces one listing fetch. hn.Client and hn.RSSSource satisfy it.
type Source interface {
	Fetch(ctx context.Context, category models.FeedCategory, limit int) (models.FeedFetch, error)
}

// Store persists a completed fetch atomically.
type Store interface {
	ApplyFetch(ctx context.Context, fetch models.FeedFetch) error
}

// Update reports the outcome of one refresh.
type Update struct {
	Category models.FeedCategory
	Stories  int
	Err      error
}

type result struct {
	fetch models.FeedFetch
	ctx   context.Context // the fetch's own context; cancelled results are dropped
	gen   uint64
	err   error
}

// Fetcher runs network fetches concurrently and funnels their results to a
// single writer loop, so the store only ever sees one writer.
type Fetcher struct {
	source   Source
	store    Store
	pageSize int
	logger   *slog.Logger

	results chan result
	updates chan Update

	mu       sync.Mutex
	inflight map[models.FeedCategory]inflight
	gen      uint64
	closed   bool
	wg       sync.WaitGroup
}

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

type Option func(*Fetcher)

// WithPageSize sets how many story payloads accompany each listing.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func NewFetcher(source Source, store Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:   source,
		store:    store,
		pageSize: 30,
		logger:   slog.New(slog.DiscardHandler),
		results:  make(chan result),
		updates:  make(chan Update, 16),
		inflight: make(map[models.FeedCategory]inflight),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Updates delivers one Update per refresh that reached the writer loop.
func (f *Fetcher) Updates() <-chan Update {
	return f.updates
}

// Refresh starts a background fetch of category. A newer refresh of the same
// category cancels the older one. The fetch is bounded by ctx; Run must be
// running for its result to be stored. Refresh after Run has returned is a
// no-op.
func (f *Fetcher) Refresh(ctx context.Context, category models.FeedCategory) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	fctx, cancel := context.WithCancel(ctx)
	if prev, ok := f.inflight[category]; ok {
		prev.cancel()
	}
	f.gen++
	gen := f.gen
	f.inflight[category] = inflight{gen: gen, cancel: cancel}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		fetch, err := f.source.Fetch(fctx, category, f.pageSize)
		if err == nil {
			fetch.Category = category
		} else {
			fetch = models.FeedFetch{Category: category}
		}
		select {
		case f.results <- result{fetch: fetch, ctx: fctx, gen: gen, err: err}:
		case <-fctx.Done():
			f.finish(category, gen)
		}
	}()
}

// Run is the single writer loop. It returns when ctx is done, after every
// started fetch has finished.
func (f *Fetcher) Run(ctx context.Context) error {
	defer close(f.updates)
	for {
		select {
		case <-ctx.Done():
			f.cancelAll()
			go func() {
				// Drain fetches that raced the shutdown.
				for range f.results {
				}
			}()
			f.wg.Wait()
			close(f.results)
			return ctx.Err()
		case r := <-f.results:
			f.apply(ctx, r)
		}
	}
}

func (f *Fetcher) apply(ctx context.Context, r result) {
	category := r.fetch.Category
	defer f.finish(category, r.gen)

	if r.ctx.Err() != nil {
		f.logger.Debug("discarding cancelled fetch", "feed", category)
		return
	}
	u := Update{Category: category, Err: r.err}
	if r.err == nil {
		if err := f.store.ApplyFetch(ctx, r.fetch); err != nil {
			u.Err = fmt.Errorf("storing %s: %w", category, err)
		} else {
			u.Stories = len(r.fetch.IDs)
		}
	}
	if u.Err != nil {
		f.logger.Warn("refresh failed", "feed", category, "error", u.Err)
	} else {
		f.logger.Info("refreshed feed", "feed", category, "stories", u.Stories)
	}

	select {
	case f.updates <- u:
	default:
		f.logger.Warn("dropping refresh update, nobody listening", "feed", category)
	}
}

func (f *Fetcher) finish(category models.FeedCategory, gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.inflight[category]; ok && cur.gen == gen {
		cur.cancel()
		delete(f.inflight, category)
	}
}

func (f *Fetcher) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, in := range f.inflight {
		in.cancel()
	}
}

// FetchAndStore fetches category and stores it synchronously, returning the
// listing length.
func (f *Fetcher) FetchAndStore(ctx context.Context, category models.FeedCategory) (int, error) {
	fetch, err := f.source.Fetch(ctx, category, f.pageSize)
	if err != nil {
		return 0, err
	}
	fetch.Category = category
	if err := f.store.ApplyFetch(ctx, fetch); err != nil {
		return 0, fmt.Errorf("storing %s: %w", category, err)
	}
	return len(fetch.IDs), nil
}

// FetchAll fetches categories concurrently and stores each result as it
// arrives. Failures of individual feeds are joined into the returned error;
// the other feeds are still stored.
func (f *Fetcher) FetchAll(ctx context.Context, categories []models.FeedCategory) (map[models.FeedCategory]int, error) {
	var (
		mu     sync.Mutex
		counts = make(map[models.FeedCategory]int, len(categories))
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range categories {
		if !c.Remote() {
			continue
		}
		g.Go(func() error {
			n, err := f.FetchAndStore(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Warn("fetch failed", "feed", c, "error", err)
				errs = append(errs, err)
				return nil
			}
			counts[c] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}
	return counts, errors.Join(errs...)
}

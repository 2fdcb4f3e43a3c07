package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/metrics"
)

// ArtworkCallback receives a loaded asset for the slot that requested it.
type ArtworkCallback func(slot int, item domain.StoreItem, asset catalog.Asset)

type artworkWaiter struct {
	slot     int
	callback ArtworkCallback
}

type artworkTask struct {
	item    domain.StoreItem
	cancel  context.CancelFunc
	waiters []artworkWaiter
}

// ArtworkLoader fetches item artwork keyed by item identity. Display slots
// are bound to items; a finished load is delivered only to slots that still
// show the item it was started for.
type ArtworkLoader struct {
	fetcher AssetFetcher
	logger  *slog.Logger

	mu       sync.Mutex
	bindings map[int]int64
	tasks    map[int64]*artworkTask
	wg       sync.WaitGroup
}

func NewArtworkLoader(fetcher AssetFetcher, logger *slog.Logger) *ArtworkLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtworkLoader{
		fetcher:  fetcher,
		logger:   logger,
		bindings: make(map[int]int64),
		tasks:    make(map[int64]*artworkTask),
	}
}

// Bind records that slot currently displays itemID.
func (l *ArtworkLoader) Bind(slot int, itemID int64) {
	l.mu.Lock()
	l.bindings[slot] = itemID
	l.mu.Unlock()
}

func (l *ArtworkLoader) Unbind(slot int) {
	l.mu.Lock()
	delete(l.bindings, slot)
	l.mu.Unlock()
}

// Bound reports the item a slot displays.
func (l *ArtworkLoader) Bound(slot int) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bindings[slot]
	return id, ok
}

// Load binds slot to item and fetches its artwork. Concurrent loads of the
// same item share one fetch.
func (l *ArtworkLoader) Load(ctx context.Context, slot int, item domain.StoreItem, callback ArtworkCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bindings[slot] = item.ID
	if item.ArtworkURL == "" || callback == nil {
		return
	}
	waiter := artworkWaiter{slot: slot, callback: callback}
	if task, ok := l.tasks[item.ID]; ok {
		task.addWaiter(waiter)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &artworkTask{item: item, cancel: cancel, waiters: []artworkWaiter{waiter}}
	l.tasks[item.ID] = task
	l.wg.Add(1)
	go l.fetch(taskCtx, task)
}

// addWaiter keeps one waiter per slot; a slot rebound back to an item
// whose fetch is still running replaces its earlier callback.
func (t *artworkTask) addWaiter(waiter artworkWaiter) {
	for i := range t.waiters {
		if t.waiters[i].slot == waiter.slot {
			t.waiters[i] = waiter
			return
		}
	}
	t.waiters = append(t.waiters, waiter)
}

func (l *ArtworkLoader) fetch(ctx context.Context, task *artworkTask) {
	defer l.wg.Done()
	defer task.cancel()

	asset, err := l.fetcher.FetchAsset(ctx, task.item.ArtworkURL)

	l.mu.Lock()
	if l.tasks[task.item.ID] != task {
		l.mu.Unlock()
		metrics.ArtworkFetchTotal.WithLabelValues("cancelled").Inc()
		return
	}
	delete(l.tasks, task.item.ID)
	var deliver []artworkWaiter
	if err == nil {
		for _, waiter := range task.waiters {
			if l.bindings[waiter.slot] == task.item.ID {
				deliver = append(deliver, waiter)
			}
		}
	}
	l.mu.Unlock()

	switch {
	case err == nil:
		metrics.ArtworkFetchTotal.WithLabelValues("ok").Inc()
	case catalog.IsCancelled(err):
		metrics.ArtworkFetchTotal.WithLabelValues("cancelled").Inc()
		return
	case errors.Is(err, catalog.ErrAssetMissing):
		metrics.ArtworkFetchTotal.WithLabelValues("missing").Inc()
		l.logger.Debug("artwork missing", slog.Int64("itemId", task.item.ID), slog.String("error", err.Error()))
		return
	default:
		metrics.ArtworkFetchTotal.WithLabelValues("error").Inc()
		l.logger.Debug("artwork fetch failed", slog.Int64("itemId", task.item.ID), slog.String("error", err.Error()))
		return
	}

	for _, waiter := range deliver {
		waiter.callback(waiter.slot, task.item, asset)
	}
}

// Cancel aborts the load for one item. Other loads are unaffected.
func (l *ArtworkLoader) Cancel(itemID int64) {
	l.mu.Lock()
	task, ok := l.tasks[itemID]
	if ok {
		delete(l.tasks, itemID)
	}
	l.mu.Unlock()
	if ok {
		task.cancel()
	}
}

func (l *ArtworkLoader) CancelAll() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = make(map[int64]*artworkTask)
	l.mu.Unlock()
	for _, task := range tasks {
		task.cancel()
	}
}

// Pending returns the number of loads in flight.
func (l *ArtworkLoader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Wait blocks until every started fetch has returned.
func (l *ArtworkLoader) Wait() {
	l.wg.Wait()
}

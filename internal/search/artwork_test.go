package search

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
)

type fakeFetcher struct {
	mu      sync.Mutex
	block   bool
	gates   map[string]chan struct{}
	missing map[string]bool
	calls   int
	lastErr error
}

func (f *fakeFetcher) FetchAsset(ctx context.Context, url string) (catalog.Asset, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[url]
	block := f.block
	missing := f.missing[url]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if block {
		<-ctx.Done()
		err := fmt.Errorf("%w: %w", catalog.ErrCancelled, ctx.Err())
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		return catalog.Asset{}, err
	}
	if missing {
		return catalog.Asset{}, fmt.Errorf("%w: status 404", catalog.ErrAssetMissing)
	}
	return catalog.Asset{Data: []byte(url), ContentType: "image/png", Width: 1, Height: 1}, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) LastErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

type delivery struct {
	slot int
	id   int64
	data string
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) callback(slot int, item domain.StoreItem, asset catalog.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{slot: slot, id: item.ID, data: string(asset.Data)})
}

func (r *recorder) Deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func artworkItem(id int64) domain.StoreItem {
	return domain.StoreItem{ID: id, Name: fmt.Sprintf("item-%d", id), Kind: "song", ArtworkURL: fmt.Sprintf("http://art/%d.png", id)}
}

func TestArtworkLoaderDeliversToBoundSlot(t *testing.T) {
	loader := NewArtworkLoader(&fakeFetcher{}, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 3, artworkItem(10), rec.callback)
	loader.Wait()

	got := rec.Deliveries()
	if len(got) != 1 || got[0].slot != 3 || got[0].id != 10 || got[0].data != "http://art/10.png" {
		t.Fatalf("unexpected deliveries: %#v", got)
	}
	if loader.Pending() != 0 {
		t.Fatalf("expected finished load to be released")
	}
}

func TestArtworkLoaderDropsResultForReboundSlot(t *testing.T) {
	fetcher := &fakeFetcher{gates: map[string]chan struct{}{"http://art/1.png": make(chan struct{})}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 0, artworkItem(1), rec.callback)
	waitFor(t, time.Second, func() bool { return fetcher.Calls() == 1 })
	loader.Load(context.Background(), 0, artworkItem(2), rec.callback)

	close(fetcher.gates["http://art/1.png"])
	loader.Wait()

	got := rec.Deliveries()
	if len(got) != 1 || got[0].id != 2 {
		t.Fatalf("expected only item 2 delivered to reused slot, got %#v", got)
	}
}

func TestArtworkLoaderSharesFetchPerItem(t *testing.T) {
	fetcher := &fakeFetcher{gates: map[string]chan struct{}{"http://art/5.png": make(chan struct{})}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 0, artworkItem(5), rec.callback)
	loader.Load(context.Background(), 1, artworkItem(5), rec.callback)
	close(fetcher.gates["http://art/5.png"])
	loader.Wait()

	if fetcher.Calls() != 1 {
		t.Fatalf("expected one fetch for the same item, got %d", fetcher.Calls())
	}
	if len(rec.Deliveries()) != 2 {
		t.Fatalf("expected both slots notified, got %#v", rec.Deliveries())
	}
}

func TestArtworkLoaderCancelIsPerItem(t *testing.T) {
	fetcher := &fakeFetcher{gates: map[string]chan struct{}{
		"http://art/1.png": make(chan struct{}),
		"http://art/2.png": make(chan struct{}),
	}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 0, artworkItem(1), rec.callback)
	loader.Load(context.Background(), 1, artworkItem(2), rec.callback)
	waitFor(t, time.Second, func() bool { return fetcher.Calls() == 2 })

	loader.Cancel(1)
	close(fetcher.gates["http://art/1.png"])
	close(fetcher.gates["http://art/2.png"])
	loader.Wait()

	got := rec.Deliveries()
	if len(got) != 1 || got[0].id != 2 {
		t.Fatalf("expected only the uncancelled item delivered, got %#v", got)
	}
}

func TestArtworkLoaderMissingAssetHasNoCallback(t *testing.T) {
	fetcher := &fakeFetcher{missing: map[string]bool{"http://art/9.png": true}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 0, artworkItem(9), rec.callback)
	loader.Load(context.Background(), 1, domain.StoreItem{ID: 11, Kind: "song"}, rec.callback)
	loader.Wait()

	if len(rec.Deliveries()) != 0 {
		t.Fatalf("expected no deliveries, got %#v", rec.Deliveries())
	}
	if fetcher.Calls() != 1 {
		t.Fatalf("expected items without artwork to be skipped, got %d fetches", fetcher.Calls())
	}
	if id, ok := loader.Bound(1); !ok || id != 11 {
		t.Fatalf("expected slot 1 bound to item 11")
	}
}

func TestArtworkLoaderUnbindDropsDelivery(t *testing.T) {
	fetcher := &fakeFetcher{gates: map[string]chan struct{}{"http://art/4.png": make(chan struct{})}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 2, artworkItem(4), rec.callback)
	loader.Unbind(2)
	close(fetcher.gates["http://art/4.png"])
	loader.Wait()

	if len(rec.Deliveries()) != 0 {
		t.Fatalf("expected unbound slot to receive nothing, got %#v", rec.Deliveries())
	}
}

func TestArtworkLoaderReboundSlotDeliversOnce(t *testing.T) {
	fetcher := &fakeFetcher{gates: map[string]chan struct{}{
		"http://art/1.png": make(chan struct{}),
		"http://art/2.png": make(chan struct{}),
	}}
	loader := NewArtworkLoader(fetcher, discardLogger())
	rec := &recorder{}

	loader.Load(context.Background(), 0, artworkItem(1), rec.callback)
	loader.Load(context.Background(), 0, artworkItem(2), rec.callback)
	loader.Load(context.Background(), 0, artworkItem(1), rec.callback)
	close(fetcher.gates["http://art/1.png"])
	close(fetcher.gates["http://art/2.png"])
	loader.Wait()

	got := rec.Deliveries()
	if len(got) != 1 || got[0].slot != 0 || got[0].id != 1 {
		t.Fatalf("expected a single delivery of item 1 to slot 0, got %#v", got)
	}
}

package search

import (
	"context"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
)

// Catalog runs a single search query against the remote store.
type Catalog interface {
	Search(ctx context.Context, query domain.Query) ([]domain.StoreItem, error)
}

// AssetFetcher downloads artwork.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, url string) (catalog.Asset, error)
}

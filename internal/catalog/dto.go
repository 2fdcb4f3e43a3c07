package catalog

import (
	"strings"

	"storesearch/searchclient/internal/domain"
)

type searchResponse struct {
	ResultCount int          `json:"resultCount"`
	Results     *[]apiResult `json:"results"`
}

type apiResult struct {
	WrapperType    string `json:"wrapperType"`
	Kind           string `json:"kind"`
	CollectionType string `json:"collectionType"`
	TrackID        int64  `json:"trackId"`
	CollectionID   int64  `json:"collectionId"`
	ArtistID       int64  `json:"artistId"`
	TrackName      string `json:"trackName"`
	CollectionName string `json:"collectionName"`
	ArtistName     string `json:"artistName"`
	ArtworkURL100  string `json:"artworkUrl100"`
	ArtworkURL60   string `json:"artworkUrl60"`
}

func (r apiResult) identity() int64 {
	switch {
	case r.TrackID != 0:
		return r.TrackID
	case r.CollectionID != 0:
		return r.CollectionID
	default:
		return r.ArtistID
	}
}

// kind resolves the category string. Albums come back as collections
// without a kind field.
func (r apiResult) kind() string {
	if r.Kind != "" {
		return r.Kind
	}
	if strings.EqualFold(r.WrapperType, "collection") && strings.EqualFold(r.CollectionType, "album") {
		return "album"
	}
	return r.WrapperType
}

func (r apiResult) toStoreItem() (domain.StoreItem, bool) {
	id := r.identity()
	if id == 0 {
		return domain.StoreItem{}, false
	}
	name := strings.TrimSpace(r.TrackName)
	if name == "" {
		name = strings.TrimSpace(r.CollectionName)
	}
	artwork := strings.TrimSpace(r.ArtworkURL100)
	if artwork == "" {
		artwork = strings.TrimSpace(r.ArtworkURL60)
	}
	return domain.StoreItem{
		ID:         id,
		Name:       name,
		Artist:     strings.TrimSpace(r.ArtistName),
		Kind:       r.kind(),
		ArtworkURL: artwork,
	}, true
}

package catalog

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const maxAssetBytes = int64(20 * 1024 * 1024) // 20MB

// Asset is a fetched artwork image.
type Asset struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// FetchAsset downloads the image at rawURL. A non-success status or a
// payload that does not decode as an image yields ErrAssetMissing.
// Artwork is served from CDN hosts, so fetches skip the search pacing.
func (c *Client) FetchAsset(ctx context.Context, rawURL string) (Asset, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Asset{}, fmt.Errorf("%w: invalid url", ErrAssetMissing)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		if err := transportError(ctx, err); IsCancelled(err) {
			return Asset{}, err
		}
		return Asset{}, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Asset{}, fmt.Errorf("%w: HTTP %d", ErrAssetMissing, resp.StatusCode)
	}
	if resp.ContentLength > maxAssetBytes {
		return Asset{}, fmt.Errorf("%w: image too large", ErrAssetMissing)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		if err := transportError(ctx, err); IsCancelled(err) {
			return Asset{}, err
		}
		return Asset{}, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	return DecodeAsset(data)
}

// DecodeAsset validates that data decodes as a complete image.
func DecodeAsset(data []byte) (Asset, error) {
	if len(data) == 0 {
		return Asset{}, fmt.Errorf("%w: empty body", ErrAssetMissing)
	}
	// A full decode rejects bodies that are truncated past the header.
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	bounds := img.Bounds()
	return Asset{
		Data:        data,
		ContentType: "image/" + format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// Thumbnail returns the image scaled to fit within maxSide pixels. Images
// that already fit are returned unchanged.
func (a Asset) Thumbnail(maxSide int) ([]byte, string, error) {
	if maxSide <= 0 || (a.Width <= maxSide && a.Height <= maxSide) {
		return a.Data, a.ContentType, nil
	}
	img, err := imaging.Decode(bytes.NewReader(a.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	thumb := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if a.ContentType == "image/png" {
		if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

package stream

import (
	"context"
	"strings"
)

// Locator resolves the URL handed to ffmpeg. It is called before every
// probe so a source whose address changes (an HLS variant with a rotating
// token, for instance) is picked up on the next iteration.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// Static is a Locator for sources with a fixed address, such as RTSP.
type Static string

// Locate returns the URL unchanged.
func (s Static) Locate(context.Context) (string, error) { return string(s), nil }

// New picks the Locator for url: an HLS resolver for http(s) .m3u8
// playlists, a Static address for everything else.
func New(url string, resolution int, userAgent string) Locator {
	lower := strings.ToLower(url)
	isHTTP := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
	path := lower
	if i := strings.Index(path, "?"); i != -1 {
		path = path[:i]
	}
	if isHTTP && strings.HasSuffix(path, ".m3u8") {
		return &HLS{
			URL:        url,
			Resolution: resolution,
			Client:     NewHTTPClient(userAgent),
		}
	}
	return Static(url)
}

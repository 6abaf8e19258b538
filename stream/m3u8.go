package stream

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// HLS locates the media playlist of an HLS source. Master playlists are
// resolved to the variant closest to Resolution; media playlists are used
// as-is unless they have been closed.
type HLS struct {
	URL        string
	Resolution int // target height, 0 = highest bandwidth
	Client     *HTTPClient
}

// Locate fetches the playlist and returns the URL ffmpeg should read.
func (h *HLS) Locate(ctx context.Context) (string, error) {
	body, err := h.Client.GetBytes(ctx, h.URL)
	if err != nil {
		return "", fmt.Errorf("fetch playlist: %w", err)
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return "", fmt.Errorf("decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		url, err := PickVariant(master, h.URL, h.Resolution)
		if err != nil {
			return "", fmt.Errorf("pick variant: %w", err)
		}
		return url, nil
	case m3u8.MEDIA:
		if media := p.(*m3u8.MediaPlaylist); media.Closed {
			return "", ErrEnded
		}
		return h.URL, nil
	default:
		return "", fmt.Errorf("unknown playlist type")
	}
}

// PickVariant selects the variant matching the requested height. Without an
// exact match it takes the best height below the request, then the lowest
// available. Ties break on bandwidth. Variants without a RESOLUTION attribute
// are only used if no variant carries one.
func PickVariant(master *m3u8.MasterPlaylist, baseURL string, resolution int) (string, error) {
	type variant struct {
		url       string
		height    int
		bandwidth uint32
	}

	var withRes, withoutRes []variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		height := 0
		if parts := strings.Split(v.Resolution, "x"); len(parts) == 2 {
			height, _ = strconv.Atoi(parts[1])
		}
		vv := variant{url: v.URI, height: height, bandwidth: v.Bandwidth}
		if height > 0 {
			withRes = append(withRes, vv)
		} else {
			withoutRes = append(withoutRes, vv)
		}
	}

	candidates := withRes
	if len(candidates) == 0 {
		candidates = withoutRes
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no variants found in master playlist")
	}

	// Find best height: exact match, or highest below requested, or lowest.
	heights := map[int]bool{}
	for _, c := range candidates {
		heights[c.height] = true
	}
	target := -1
	switch {
	case resolution <= 0:
		for h := range heights {
			if h > target {
				target = h
			}
		}
	case heights[resolution]:
		target = resolution
	default:
		for h := range heights {
			if h < resolution && h > target {
				target = h
			}
		}
		if target == -1 {
			for h := range heights {
				if target == -1 || h < target {
					target = h
				}
			}
		}
	}

	var picked *variant
	for i := range candidates {
		c := &candidates[i]
		if c.height != target {
			continue
		}
		if picked == nil || c.bandwidth > picked.bandwidth {
			picked = c
		}
	}

	return resolvePlaylistURL(baseURL, picked.url), nil
}

// resolvePlaylistURL constructs the full variant URL from the base master
// playlist URL and the relative variant URI, preserving query parameters.
func resolvePlaylistURL(baseURL, variantURI string) string {
	if strings.HasPrefix(variantURI, "http://") || strings.HasPrefix(variantURI, "https://") {
		return variantURI
	}

	queryPart := ""
	pathPart := baseURL
	if idx := strings.Index(baseURL, "?"); idx != -1 {
		pathPart = baseURL[:idx]
		queryPart = baseURL[idx:]
	}
	if strings.Contains(variantURI, "?") {
		queryPart = ""
	}

	if lastSlash := strings.LastIndex(pathPart, "/"); lastSlash != -1 {
		return pathPart[:lastSlash+1] + variantURI + queryPart
	}
	return variantURI + queryPart
}

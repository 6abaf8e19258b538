package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
hd/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720
hd-hi/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080
fhd/index.m3u8
`

const livePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:2.0,
seg7.ts
#EXTINF:2.0,
seg8.ts
`

func decodeMaster(t *testing.T, s string) *m3u8.MasterPlaylist {
	t.Helper()
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(s), true)
	require.NoError(t, err)
	require.Equal(t, m3u8.MASTER, listType)
	return p.(*m3u8.MasterPlaylist)
}

func TestPickVariant(t *testing.T) {
	master := decodeMaster(t, masterPlaylist)
	base := "https://cdn.example/live/master.m3u8?token=abc"

	cases := []struct {
		resolution int
		want       string
	}{
		{720, "https://cdn.example/live/hd-hi/index.m3u8?token=abc"},
		{1080, "https://cdn.example/live/fhd/index.m3u8?token=abc"},
		{900, "https://cdn.example/live/hd-hi/index.m3u8?token=abc"},
		{240, "https://cdn.example/live/low/index.m3u8?token=abc"},
		{0, "https://cdn.example/live/fhd/index.m3u8?token=abc"},
	}
	for _, tc := range cases {
		got, err := PickVariant(master, base, tc.resolution)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "resolution %d", tc.resolution)
	}
}

func TestNewPicksLocator(t *testing.T) {
	assert.Equal(t, Static("rtsp://cam:554/id1/0"), New("rtsp://cam:554/id1/0", 720, ""))
	assert.IsType(t, &HLS{}, New("https://cdn/live.m3u8?x=1", 720, ""))
	assert.IsType(t, Static(""), New("https://cdn/live.mp4", 720, ""))
}

func TestHLSLocate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "blackbox-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(masterPlaylist))
	})
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(livePlaylist))
	})
	mux.HandleFunc("/ended.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(livePlaylist + "#EXT-X-ENDLIST\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()

	url, err := New(srv.URL+"/master.m3u8", 360, "blackbox-test").Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/low/index.m3u8", url)

	url, err = New(srv.URL+"/media.m3u8", 720, "").Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/media.m3u8", url)

	_, err = New(srv.URL+"/ended.m3u8", 720, "").Locate(ctx)
	assert.ErrorIs(t, err, ErrEnded)

	_, err = New(srv.URL+"/missing.m3u8", 720, "").Locate(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

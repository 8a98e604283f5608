package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytgrab-proxy/work/catalog"
	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/pipeline"
	"ytgrab-proxy/work/proxystream"
	"ytgrab-proxy/work/selector"
)

type fakeRemuxer struct {
	payload []byte
}

func (f *fakeRemuxer) Remux(_ context.Context, _, _, outputPath string) error {
	return os.WriteFile(outputPath, f.payload, 0644)
}

// mediaServer serves the three fake streams the catalog replies point at.
func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/18":
			fmt.Fprint(w, "muxed-360p-payload")
		case "/137":
			fmt.Fprint(w, "video-1080p-payload")
		case "/251":
			fmt.Fprint(w, "audio-128k-payload")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

// catalogServer replies like the upstream metadata endpoint: one combined
// format at 360, one video-only at 1080, one audio-only at 128 kbps.
func catalogServer(t *testing.T, mediaBase string) *httptest.Server {
	t.Helper()
	reply := fmt.Sprintf(`{
		"playabilityStatus": {"status": "OK"},
		"videoDetails": {"title": "Never Gonna"},
		"streamingData": {
			"formats": [
				{"itag": 18, "url": "%[1]s/18", "mimeType": "video/mp4; codecs=\"avc1.42001E, mp4a.40.2\"", "qualityLabel": "360p", "height": 360, "contentLength": "1000"}
			],
			"adaptiveFormats": [
				{"itag": 137, "url": "%[1]s/137", "mimeType": "video/mp4; codecs=\"avc1.640028\"", "qualityLabel": "1080p", "height": 1080, "contentLength": "9000"},
				{"itag": 251, "url": "%[1]s/251", "mimeType": "audio/webm; codecs=\"opus\"", "averageBitrate": 128000, "contentLength": "500"}
			]
		}
	}`, mediaBase)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestHandler(t *testing.T, catalogURL string) *Handler {
	t.Helper()
	cfg := &config.Config{
		BaseURL:          "http://dl.example",
		APIBaseURL:       catalogURL,
		PersonaOrder:     []string{"WEB"},
		PersonaRateLimit: 100,
		MetadataTimeout:  5 * time.Second,
		FetchTimeout:     5 * time.Second,
		RemuxTimeout:     5 * time.Second,
		MaxFileSizeMB:    500,
		TempDir:          t.TempDir(),
		StreamUserAgent:  "test-agent",
	}

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	janitor := pipeline.NewJanitor(time.Hour, time.Second)
	t.Cleanup(janitor.Close)

	adapter := catalog.NewAdapter(cfg, client.NewAPIClient(cfg))
	fetcher := pipeline.NewFetcher(cfg, client.NewStreamClient(cfg), pool)
	pl := pipeline.New(cfg, fetcher, &fakeRemuxer{payload: []byte("merged-1080p-output")}, janitor)
	streamer := proxystream.New(cfg, client.NewStreamClient(cfg))

	return New(cfg, adapter, pl, streamer, nil)
}

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestDownloadOptionsListsQualities(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	body := strings.NewReader(fmt.Sprintf(`{"url": %q}`, watchURL))
	h.HandleDownloadOptions(rec, httptest.NewRequest(http.MethodPost, "/download", body))

	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"download_options"`)

	var resp downloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dQw4w9WgXcQ", resp.VideoID)
	assert.Equal(t, "Never Gonna", resp.Title)

	require.Len(t, resp.Options, 2)
	assert.Equal(t, selector.Option{Tier: "1080p", Height: 1080, Kind: "adaptive", Label: "1080p", SizeHint: 9500}, resp.Options[0].Option)
	assert.Equal(t, selector.Option{Tier: "360p", Height: 360, Kind: "muxed", Label: "360p", SizeHint: 1000}, resp.Options[1].Option)

	// links are ready to fetch against the configured base URL
	assert.Equal(t, "http://dl.example/merge-download?quality=1080p&url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3DdQw4w9WgXcQ", resp.Options[0].URL)
	assert.Equal(t, "http://dl.example/merge-download?quality=360p&url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3DdQw4w9WgXcQ", resp.Options[1].URL)
}

func TestDirectDownloadRelaysMuxedStream(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/direct-download?quality=360p&url="+watchURL, nil)
	h.HandleDirectDownload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "muxed-360p-payload", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Never_Gonna")
}

func TestDirectDownloadRefusesAdaptiveOnlyQuality(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/direct-download?quality=1080p&url="+watchURL, nil)
	h.HandleDirectDownload(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, kindNoMatchingFormat, payload.ErrorKind)
}

func TestMergeDownloadServesMergedOutput(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/merge-download?quality=1080p&url="+watchURL, nil)
	h.HandleMergeDownload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "merged-1080p-output", rec.Body.String())

	// the served name is derived from the requested quality, not the
	// transient on-disk path
	assert.Equal(t, `attachment; filename="video_1080p.mp4"`, rec.Header().Get("Content-Disposition"))
}

func TestMergeDownloadRelaysMuxedWithoutPipeline(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/merge-download?quality=360p&url="+watchURL, nil)
	h.HandleMergeDownload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "muxed-360p-payload", rec.Body.String())
}

func TestInvalidLocatorIsBadRequest(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/direct-download?quality=360p&url=https://example.com/nope", nil)
	h.HandleDirectDownload(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, kindInvalidLocator, payload.ErrorKind)
}

func TestUnknownQualityIsBadRequest(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/merge-download?quality=potato&url="+watchURL, nil)
	h.HandleMergeDownload(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, kindInvalidQuality, payload.ErrorKind)
}

func TestUnavailableQualityIsNotFound(t *testing.T) {
	media := mediaServer(t)
	h := newTestHandler(t, catalogServer(t, media.URL).URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/merge-download?quality=1440p&url="+watchURL, nil)
	h.HandleMergeDownload(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, kindNoMatchingFormat, payload.ErrorKind)
}

func TestRestrictedCatalogSurfacesReason(t *testing.T) {
	restricted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"playabilityStatus": {"status": "LOGIN_REQUIRED", "reason": "Sign in to confirm your age"}}`)
	}))
	defer restricted.Close()

	h := newTestHandler(t, restricted.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/direct-download?quality=360p&url="+watchURL, nil)
	h.HandleDirectDownload(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, catalog.KindUnavailable, payload.ErrorKind)
	assert.Equal(t, "Sign in to confirm your age", payload.Detail)
}

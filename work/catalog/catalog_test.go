package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
)

func testConfig(apiBase string, order ...string) *config.Config {
	return &config.Config{
		APIBaseURL:       apiBase,
		PersonaOrder:     order,
		PersonaRateLimit: 100,
		MetadataTimeout:  5 * time.Second,
	}
}

func newTestAdapter(cfg *config.Config) *Adapter {
	return NewAdapter(cfg, client.NewAPIClient(cfg))
}

func playerReply(status, reason, title, formats string) string {
	return fmt.Sprintf(`{
		"playabilityStatus": {"status": %q, "reason": %q},
		"videoDetails": {"title": %q},
		"streamingData": {"formats": [%s], "adaptiveFormats": []}
	}`, status, reason, title, formats)
}

const goodFormats = `
	{"itag": 18, "url": "https://media.example/18", "mimeType": "video/mp4; codecs=\"avc1, mp4a\"", "height": 360},
	{"itag": 137, "url": "https://media.example/137", "mimeType": "video/mp4; codecs=\"avc1\"", "height": 1080},
	{"itag": 251, "url": "https://media.example/251", "mimeType": "audio/webm; codecs=\"opus\"", "averageBitrate": 128000}`

func TestFetchCatalogFallsBackAcrossPersonas(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.Contains(r.URL.Path, "/youtubei/v1/player"))
		body, _ := io.ReadAll(r.Body)
		payload := string(body)

		switch {
		case strings.Contains(payload, `"clientName":"WEB"`):
			fmt.Fprint(w, playerReply("LOGIN_REQUIRED", "Sign in to confirm your age", "", ""))
		case strings.Contains(payload, `"clientName":"ANDROID"`):
			fmt.Fprint(w, playerReply("OK", "", "some title", ""))
		case strings.Contains(payload, `"clientName":"IOS"`):
			fmt.Fprint(w, playerReply("OK", "", "Test Video", goodFormats))
		default:
			http.Error(w, "unexpected persona", http.StatusBadRequest)
		}
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "WEB", "ANDROID", "IOS"))
	cat, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)

	assert.Equal(t, "IOS", cat.Persona)
	assert.Equal(t, "Test Video", cat.Title)
	assert.Len(t, cat.Records, 3)
}

func TestFetchCatalogAllRestrictedCarriesLastReason(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := string(body)

		switch {
		case strings.Contains(payload, `"clientName":"WEB"`):
			fmt.Fprint(w, playerReply("LOGIN_REQUIRED", "Sign in to confirm your age", "", ""))
		default:
			fmt.Fprint(w, playerReply("UNPLAYABLE", "This video is not available in your country", "", ""))
		}
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "WEB", "ANDROID"))
	_, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)

	var catErr *Error
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, KindUnavailable, catErr.Kind)
	assert.Equal(t, "This video is not available in your country", catErr.Detail)
}

func TestFetchCatalogRestrictionWithoutReasonUsesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playerReply("UNPLAYABLE", "", "", ""))
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "WEB"))
	_, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")

	var catErr *Error
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, KindUnavailable, catErr.Kind)
	assert.Equal(t, "UNPLAYABLE", catErr.Detail)
}

func TestFetchCatalogTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "WEB", "ANDROID"))
	_, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")

	var catErr *Error
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, KindTransport, catErr.Kind)
	assert.Contains(t, catErr.Detail, "502")
}

func TestFetchCatalogSkipsConfiguredPersonas(t *testing.T) {
	var personasSeen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		for _, name := range []string{"WEB_EMBEDDED_PLAYER", "ANDROID", "IOS", "WEB"} {
			if strings.Contains(string(body), `"clientName":"`+name+`"`) {
				personasSeen = append(personasSeen, name)
				break
			}
		}
		fmt.Fprint(w, playerReply("OK", "", "Test Video", goodFormats))
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL, "WEB", "ANDROID")
	cfg.PersonaSkip = []string{"WEB"}
	adapter := newTestAdapter(cfg)

	cat, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "ANDROID", cat.Persona)
	assert.Equal(t, []string{"ANDROID"}, personasSeen)
}

func TestFetchCatalogUnknownPersonaSkippedNotFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playerReply("OK", "", "Test Video", goodFormats))
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "NO_SUCH_PERSONA", "WEB"))
	cat, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "WEB", cat.Persona)
}

func TestFetchCatalogHLSFallback(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2",FRAME-RATE=30
https://media.example/hls/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",FRAME-RATE=30
https://media.example/hls/1080.m3u8
`

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/master.m3u8") {
			fmt.Fprint(w, master)
			return
		}
		fmt.Fprintf(w, `{
			"playabilityStatus": {"status": "OK"},
			"videoDetails": {"title": "Live Thing"},
			"streamingData": {"hlsManifestUrl": %q}
		}`, ts.URL+"/master.m3u8")
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "IOS"))
	cat, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)

	require.Len(t, cat.Records, 2)
	assert.Equal(t, "https://media.example/hls/720.m3u8", cat.Records[0]["url"])
	assert.Equal(t, 720, cat.Records[0]["height"])
	assert.Equal(t, 1080, cat.Records[1]["height"])
}

func TestFetchCatalogEmptyEverywhereIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playerReply("OK", "", "Test Video", ""))
	}))
	defer ts.Close()

	adapter := newTestAdapter(testConfig(ts.URL, "WEB", "ANDROID"))
	_, err := adapter.FetchCatalog(context.Background(), "dQw4w9WgXcQ")

	var catErr *Error
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, KindUnavailable, catErr.Kind)
	assert.Equal(t, "content unavailable", catErr.Detail)
}

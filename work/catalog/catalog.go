// Package catalog obtains raw streaming metadata for a video ID from the
// upstream catalog service, falling back across multiple client personas
// until one yields usable format records.
package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/extractor"
	"ytgrab-proxy/work/format"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"

	"github.com/grafov/m3u8"
)

// Error kinds surfaced by the adapter. Unavailable means every persona was
// exhausted on restrictions or empty catalogs; Transport means the upstream
// could not be reached or parsed at all.
const (
	KindUnavailable = "catalog_unavailable"
	KindTransport   = "catalog_transport"
)

// Error is the adapter's terminal failure, carrying the kind and the most
// specific upstream detail observed (e.g. the last restriction reason).
type Error struct {
	Kind   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Catalog is the successful adapter result: the resolved title plus the
// raw, unnormalized format records from the winning persona.
type Catalog struct {
	Title   string
	Records []format.RawRecord
	Persona string
}

// attemptStatus is the explicit outcome of one persona attempt. The
// fallback loop consumes these rather than errors, because restriction and
// empty-catalog outcomes are normal flow, not faults.
type attemptStatus int

const (
	attemptOK attemptStatus = iota
	attemptRestricted
	attemptEmpty
	attemptTransport
)

func (s attemptStatus) String() string {
	switch s {
	case attemptOK:
		return "ok"
	case attemptRestricted:
		return "restricted"
	case attemptEmpty:
		return "empty"
	default:
		return "transport"
	}
}

type attemptResult struct {
	status  attemptStatus
	reason  string // restriction reason or transport detail
	title   string
	records []format.RawRecord
}

// Adapter calls the upstream catalog service with client-identity fallback.
type Adapter struct {
	cfg      *config.Config
	client   *client.APIClient
	registry *Registry
}

// NewAdapter creates a catalog adapter backed by the given API client and a
// fresh persona registry.
func NewAdapter(cfg *config.Config, apiClient *client.APIClient) *Adapter {
	return &Adapter{
		cfg:      cfg,
		client:   apiClient,
		registry: NewRegistry(cfg.PersonaRateLimit),
	}
}

// FetchCatalog tries personas in preference order until one yields at least
// one raw format record. Restricted and empty outcomes advance to the next
// persona; only full exhaustion surfaces as an error, carrying the last
// restriction reason observed so callers see the real gate, not a generic
// message.
func (a *Adapter) FetchCatalog(ctx context.Context, id extractor.ID) (*Catalog, error) {
	var (
		lastReason    string
		lastTransport string
	)

	for _, name := range a.personaOrder() {
		state := a.registry.acquire(name)
		if !state.usable() {
			logger.Debug("{catalog - FetchCatalog} skipping persona %s: %v", name, state.initErr)
			continue
		}

		state.pace()
		res := a.tryPersona(ctx, state.persona, id)
		metrics.CatalogAttempts.WithLabelValues(name, res.status.String()).Inc()

		switch res.status {
		case attemptOK:
			logger.Debug("{catalog - FetchCatalog} persona %s returned %d records for %s", name, len(res.records), id)
			return &Catalog{Title: res.title, Records: res.records, Persona: name}, nil
		case attemptRestricted:
			logger.Info("{catalog - FetchCatalog} persona %s restricted for %s: %s", name, id, res.reason)
			lastReason = res.reason
		case attemptEmpty:
			logger.Info("{catalog - FetchCatalog} persona %s returned no usable records for %s", name, id)
		case attemptTransport:
			logger.Warn("{catalog - FetchCatalog} persona %s transport failure for %s: %s", name, id, res.reason)
			lastTransport = res.reason
		}

		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTransport, Detail: ctx.Err().Error()}
		}
	}

	if lastReason != "" {
		return nil, &Error{Kind: KindUnavailable, Detail: lastReason}
	}
	if lastTransport != "" {
		return nil, &Error{Kind: KindTransport, Detail: lastTransport}
	}
	return nil, &Error{Kind: KindUnavailable, Detail: "content unavailable"}
}

// personaOrder resolves the configured preference order, dropping skipped
// personas.
func (a *Adapter) personaOrder() []string {
	order := a.cfg.PersonaOrder
	if len(order) == 0 {
		order = DefaultPersonaOrder()
	}

	skip := make(map[string]bool, len(a.cfg.PersonaSkip))
	for _, name := range a.cfg.PersonaSkip {
		skip[name] = true
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		if !skip[name] {
			out = append(out, name)
		}
	}
	return out
}

// playerResponse is the subset of the upstream metadata reply the adapter
// inspects. Format records deliberately stay loose maps; the normalizer
// owns converting them to the strict type.
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData struct {
		Formats         []format.RawRecord `json:"formats"`
		AdaptiveFormats []format.RawRecord `json:"adaptiveFormats"`
		HlsManifestURL  string             `json:"hlsManifestUrl"`
	} `json:"streamingData"`
	VideoDetails struct {
		Title string `json:"title"`
	} `json:"videoDetails"`
}

func (a *Adapter) tryPersona(ctx context.Context, p Persona, id extractor.ID) attemptResult {
	body, err := json.Marshal(newPlayerRequest(p, id.String()))
	if err != nil {
		return attemptResult{status: attemptTransport, reason: err.Error()}
	}

	endpoint := a.baseURL(p) + "/youtubei/v1/player?key=" + url.QueryEscape(p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return attemptResult{status: attemptTransport, reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Origin", "https://"+p.Host)
	req.Header.Set("Referer", "https://"+p.Host+"/watch?v="+id.String())

	resp, err := a.client.Do(req)
	if err != nil {
		return attemptResult{status: attemptTransport, reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return attemptResult{
			status: attemptTransport,
			reason: fmt.Sprintf("upstream status %d", resp.StatusCode),
		}
	}

	var pr playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return attemptResult{status: attemptTransport, reason: "malformed upstream response: " + err.Error()}
	}

	if pr.PlayabilityStatus.Status != "OK" {
		reason := pr.PlayabilityStatus.Reason
		if reason == "" {
			reason = pr.PlayabilityStatus.Status
		}
		return attemptResult{status: attemptRestricted, reason: reason}
	}

	records := make([]format.RawRecord, 0, len(pr.StreamingData.Formats)+len(pr.StreamingData.AdaptiveFormats))
	records = append(records, pr.StreamingData.Formats...)
	records = append(records, pr.StreamingData.AdaptiveFormats...)

	// Live and some app personas expose only an HLS master playlist.
	if len(records) == 0 && pr.StreamingData.HlsManifestURL != "" {
		records = a.recordsFromHLS(ctx, p, pr.StreamingData.HlsManifestURL)
	}

	if len(records) == 0 {
		return attemptResult{status: attemptEmpty}
	}

	return attemptResult{
		status:  attemptOK,
		title:   pr.VideoDetails.Title,
		records: records,
	}
}

// baseURL resolves the catalog endpoint, honoring the configured override.
func (a *Adapter) baseURL(p Persona) string {
	if a.cfg.APIBaseURL != "" {
		return a.cfg.APIBaseURL
	}
	return "https://" + p.Host
}

// recordsFromHLS fetches an HLS master playlist and synthesizes raw format
// records from its variant streams, so the normalizer and selector treat
// them like any other upstream record.
func (a *Adapter) recordsFromHLS(ctx context.Context, p Persona, manifestURL string) []format.RawRecord {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		logger.Warn("{catalog - recordsFromHLS} manifest fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil || listType != m3u8.MASTER {
		return nil
	}

	master := playlist.(*m3u8.MasterPlaylist)
	records := make([]format.RawRecord, 0, len(master.Variants))
	for i, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		rec := format.RawRecord{
			"itag":     "hls-" + strconv.Itoa(i),
			"url":      v.URI,
			"mimeType": `video/mp4; codecs="` + v.Codecs + `"`,
			"bitrate":  int(v.Bandwidth),
		}
		if _, h, ok := parseResolution(v.Resolution); ok {
			rec["height"] = h
		}
		if v.FrameRate > 0 {
			rec["fps"] = int(v.FrameRate)
		}
		records = append(records, rec)
	}
	return records
}

// parseResolution splits a "WxH" variant resolution string.
func parseResolution(res string) (width, height int, ok bool) {
	var w, h int
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil {
		return 0, 0, false
	}
	return w, h, true
}

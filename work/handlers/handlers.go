// Package handlers implements the HTTP surface: quality listing, direct
// proxy downloads of combined streams, and merged downloads of adaptive
// pairs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ytgrab-proxy/work/catalog"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/extractor"
	"ytgrab-proxy/work/format"
	"ytgrab-proxy/work/history"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"
	"ytgrab-proxy/work/pipeline"
	"ytgrab-proxy/work/proxystream"
	"ytgrab-proxy/work/selector"
)

// Error kinds used in HTTP error payloads, beyond those defined by the
// catalog and pipeline packages.
const (
	kindInvalidLocator   = "invalid_locator"
	kindInvalidQuality   = "invalid_quality"
	kindNoMatchingFormat = "no_matching_format"
	kindInternal         = "internal_error"
)

// errorPayload is the JSON body of every non-2xx response.
type errorPayload struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}

// Handler carries the wired components behind the HTTP routes.
type Handler struct {
	cfg      *config.Config
	adapter  *catalog.Adapter
	pipeline *pipeline.Pipeline
	streamer *proxystream.Streamer
	history  *history.Store
}

func New(cfg *config.Config, adapter *catalog.Adapter, pl *pipeline.Pipeline, streamer *proxystream.Streamer, hist *history.Store) *Handler {
	return &Handler{
		cfg:      cfg,
		adapter:  adapter,
		pipeline: pl,
		streamer: streamer,
		history:  hist,
	}
}

// resolved is the shared outcome of locator resolution plus catalog fetch
// plus classification, used by all three download routes.
type resolved struct {
	id         extractor.ID
	title      string
	classified selector.Classified
}

func (h *Handler) resolve(ctx context.Context, locator string) (*resolved, error) {
	id, err := extractor.ExtractID(locator)
	if err != nil {
		return nil, err
	}

	cat, err := h.adapter.FetchCatalog(ctx, id)
	if err != nil {
		return nil, err
	}

	formats := format.NormalizeAll(cat.Records)
	return &resolved{
		id:         id,
		title:      cat.Title,
		classified: selector.Classify(formats),
	}, nil
}

// downloadRequest is the body of POST /download.
type downloadRequest struct {
	URL string `json:"url"`
}

// downloadOption pairs a selectable quality with the ready-made download
// link for it, built against the configured base URL.
type downloadOption struct {
	selector.Option
	URL string `json:"url"`
}

// downloadResponse lists the selectable qualities for a locator.
type downloadResponse struct {
	VideoID string           `json:"video_id"`
	Title   string           `json:"title"`
	Options []downloadOption `json:"download_options"`
}

// downloadLinks builds one merge-download link per option; merge-download
// serves muxed and adaptive qualities alike.
func (h *Handler) downloadLinks(locator string, opts []selector.Option) []downloadOption {
	base := strings.TrimRight(h.cfg.BaseURL, "/")
	links := make([]downloadOption, 0, len(opts))
	for _, opt := range opts {
		q := url.Values{}
		q.Set("url", locator)
		q.Set("quality", opt.Tier)
		links = append(links, downloadOption{
			Option: opt,
			URL:    base + "/merge-download?" + q.Encode(),
		})
	}
	return links
}

// HandleDownloadOptions resolves a locator and lists every quality a
// subsequent direct or merge download could serve.
//
// POST /download  {"url": "<locator>"}
func (h *Handler) HandleDownloadOptions(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveRequests.WithLabelValues("options").Inc()
	defer metrics.ActiveRequests.WithLabelValues("options").Dec()

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		h.writeError(w, "options", http.StatusBadRequest, kindInvalidLocator, "request body must be JSON with a url field")
		return
	}

	res, err := h.resolve(r.Context(), req.URL)
	if err != nil {
		h.writeFailure(w, "options", err)
		return
	}

	metrics.DownloadRequests.WithLabelValues("options", "ok").Inc()
	writeJSON(w, http.StatusOK, downloadResponse{
		VideoID: res.id.String(),
		Title:   res.title,
		Options: h.downloadLinks(req.URL, selector.Options(res.classified)),
	})
}

// HandleDirectDownload relays a combined stream at the requested quality
// straight from the upstream, preserving range semantics. Qualities that
// exist only as adaptive pairs are not served here.
//
// GET /direct-download?url=<locator>&quality=<tier>
func (h *Handler) HandleDirectDownload(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveRequests.WithLabelValues("direct").Inc()
	defer metrics.ActiveRequests.WithLabelValues("direct").Dec()

	locator := r.URL.Query().Get("url")
	quality := r.URL.Query().Get("quality")

	height, err := selector.ParseTier(quality)
	if err != nil {
		h.writeError(w, "direct", http.StatusBadRequest, kindInvalidQuality, "unknown quality tier "+quality)
		return
	}

	res, err := h.resolve(r.Context(), locator)
	if err != nil {
		h.writeFailure(w, "direct", err)
		return
	}

	sel, err := selector.Select(res.classified, height)
	if err != nil {
		h.writeFailure(w, "direct", err)
		return
	}
	if !sel.IsMuxed() {
		h.writeError(w, "direct", http.StatusNotFound, kindNoMatchingFormat,
			"no combined stream at "+quality+"; use merge-download")
		return
	}

	filename := res.title + "." + sel.Muxed.Container
	if err := h.streamer.Stream(w, r, sel.Muxed.StreamURL, filename); err != nil {
		logger.Warn("{handlers - HandleDirectDownload} relay failed for %s: %v", res.id, err)
		h.record(r.Context(), res, quality, "direct", 0, pipeline.KindFetchFailed)
		h.writeError(w, "direct", http.StatusBadGateway, pipeline.KindFetchFailed, err.Error())
		return
	}

	h.record(r.Context(), res, quality, "direct", sel.Muxed.FileSize, "ok")
	metrics.DownloadRequests.WithLabelValues("direct", "ok").Inc()
}

// HandleMergeDownload serves the requested quality as a single playable
// file. A combined stream is relayed directly; an adaptive pair goes
// through the acquire-mux pipeline and the merged output is served from
// disk with full range support.
//
// GET /merge-download?url=<locator>&quality=<tier>
func (h *Handler) HandleMergeDownload(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveRequests.WithLabelValues("merge").Inc()
	defer metrics.ActiveRequests.WithLabelValues("merge").Dec()

	locator := r.URL.Query().Get("url")
	quality := r.URL.Query().Get("quality")

	height, err := selector.ParseTier(quality)
	if err != nil {
		h.writeError(w, "merge", http.StatusBadRequest, kindInvalidQuality, "unknown quality tier "+quality)
		return
	}

	res, err := h.resolve(r.Context(), locator)
	if err != nil {
		h.writeFailure(w, "merge", err)
		return
	}

	sel, err := selector.Select(res.classified, height)
	if err != nil {
		h.writeFailure(w, "merge", err)
		return
	}

	// A combined stream needs no remuxing; relay it as-is.
	if sel.IsMuxed() {
		filename := res.title + "." + sel.Muxed.Container
		if err := h.streamer.Stream(w, r, sel.Muxed.StreamURL, filename); err != nil {
			h.record(r.Context(), res, quality, "merge", 0, pipeline.KindFetchFailed)
			h.writeError(w, "merge", http.StatusBadGateway, pipeline.KindFetchFailed, err.Error())
			return
		}
		h.record(r.Context(), res, quality, "merge", sel.Muxed.FileSize, "ok")
		metrics.DownloadRequests.WithLabelValues("merge", "ok").Inc()
		return
	}

	result, err := h.pipeline.AcquireMux(r.Context(), sel, res.title)
	if err != nil {
		h.record(r.Context(), res, quality, "merge", 0, failureKind(err))
		h.writeFailure(w, "merge", err)
		return
	}

	h.record(r.Context(), res, quality, "merge", result.Size, "ok")
	metrics.DownloadRequests.WithLabelValues("merge", "ok").Inc()
	metrics.BytesTransferred.WithLabelValues("downstream").Add(float64(result.Size))

	// the on-disk name carries a run id; callers get a stable name derived
	// from the quality they asked for
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="video_`+strings.ToLower(strings.TrimSpace(quality))+`.mp4"`)
	http.ServeFile(w, r, result.Path)
}

// record writes a history entry when the history store is enabled.
func (h *Handler) record(ctx context.Context, res *resolved, quality, mode string, size int64, outcome string) {
	h.history.Record(ctx, history.Entry{
		VideoID:   res.id.String(),
		Title:     res.title,
		Quality:   quality,
		Mode:      mode,
		SizeBytes: size,
		Outcome:   outcome,
	})
}

// HandleHistory lists recent download requests.
//
// GET /history?limit=<n>
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, "history", http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeFailure maps resolution, selection, and pipeline errors onto the
// error taxonomy and HTTP statuses.
func (h *Handler) writeFailure(w http.ResponseWriter, mode string, err error) {
	var (
		catErr  *catalog.Error
		pipeErr *pipeline.Error
	)

	switch {
	case errors.Is(err, extractor.ErrNoVideoID):
		h.writeError(w, mode, http.StatusBadRequest, kindInvalidLocator, "no video id found in locator")
	case errors.Is(err, selector.ErrNoMatch):
		h.writeError(w, mode, http.StatusNotFound, kindNoMatchingFormat, "requested quality is not available")
	case errors.As(err, &catErr):
		status := http.StatusForbidden
		if catErr.Kind == catalog.KindTransport {
			status = http.StatusServiceUnavailable
		}
		h.writeError(w, mode, status, catalog.KindUnavailable, catErr.Detail)
	case errors.As(err, &pipeErr):
		status := http.StatusBadGateway
		if pipeErr.Kind == pipeline.KindTooLarge {
			status = http.StatusInternalServerError
		}
		h.writeError(w, mode, status, pipeErr.Kind, pipeErr.Detail)
	default:
		h.writeError(w, mode, http.StatusInternalServerError, kindInternal, err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, mode string, status int, kind, detail string) {
	metrics.DownloadRequests.WithLabelValues(mode, kind).Inc()
	writeJSON(w, status, errorPayload{ErrorKind: kind, Detail: detail})
}

func failureKind(err error) string {
	var pipeErr *pipeline.Error
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return kindInternal
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} encode failed: %v", err)
	}
}

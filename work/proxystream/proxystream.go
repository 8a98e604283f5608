// Package proxystream relays a combined format's remote byte stream to the
// caller without touching local storage, preserving partial-content
// semantics end to end.
package proxystream

import (
	"fmt"
	"io"
	"net/http"

	"ytgrab-proxy/work/buffer"
	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"
	"ytgrab-proxy/work/utils"
)

// skipRequestHeaders are never forwarded upstream. Host and Content-Length
// belong to our hop; Accept-Encoding is dropped so the upstream sends
// identity-encoded media we can relay byte for byte.
var skipRequestHeaders = map[string]bool{
	"Host":            true,
	"Content-Length":  true,
	"Accept-Encoding": true,
	"Connection":      true,
}

// skipResponseHeaders are not mirrored back to the caller.
var skipResponseHeaders = map[string]bool{
	"Connection":        true,
	"Transfer-Encoding": true,
	"Keep-Alive":        true,
}

// Streamer relays remote media streams.
type Streamer struct {
	cfg     *config.Config
	client  *client.StreamClient
	buffers *buffer.Pool
}

func New(cfg *config.Config, streamClient *client.StreamClient) *Streamer {
	return &Streamer{
		cfg:     cfg,
		client:  streamClient,
		buffers: buffer.NewPool(buffer.ChunkSize),
	}
}

// Stream proxies streamURL to the caller. The caller's request headers
// (notably Range) are forwarded upstream, and the upstream status and
// headers (notably Content-Range and Content-Length) are mirrored back, so
// seeking and resumed downloads work exactly as against the origin.
//
// Returns an error only before any response byte is written; once the
// relay starts, mid-stream failures are logged and the connection is left
// to the client to notice.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, streamURL, filename string) error {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}

	for name, values := range r.Header {
		if skipRequestHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	// the wrapper tracks the mirrored status and header state so mid-stream
	// failures can be logged with what the client actually saw
	crw := client.NewCustomResponseWriter(w)

	for name, values := range resp.Header {
		if skipResponseHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			crw.Header().Add(name, v)
		}
	}
	if filename != "" {
		crw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", utils.SanitizeFilename(filename)))
	}
	crw.WriteHeader(resp.StatusCode)

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	written, err := io.CopyBuffer(&flushWriter{w: crw}, resp.Body, buf)
	metrics.BytesTransferred.WithLabelValues("downstream").Add(float64(written))
	if err != nil {
		// client hung up or upstream died mid-transfer
		logger.Debug("{proxystream - Stream} relay ended with status %d after %s for %s: %v",
			crw.StatusCode(), utils.FormatBytes(written), utils.LogURL(s.cfg.ObfuscateUrls, streamURL), err)
	}
	return nil
}

// flushWriter flushes after every chunk so media players start rendering
// without waiting for internal buffers to fill.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

package client

import (
	"net/http"
	"time"

	"ytgrab-proxy/work/config"
)

// APIClient wraps http.Client for catalog metadata calls. These are small
// JSON round trips, so a hard overall timeout is safe and desirable.
type APIClient struct {
	Client *http.Client
	config *config.Config
}

// StreamClient wraps http.Client for media payload fetches and relays. There
// is no overall timeout because large transfers legitimately run for minutes;
// only the response headers are bounded.
type StreamClient struct {
	Client *http.Client
	config *config.Config
}

// CustomResponseWriter wraps http.ResponseWriter to track headers and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
}

// NewAPIClient creates the client used for catalog metadata requests.
func NewAPIClient(config *config.Config) *APIClient {
	client := &http.Client{
		Timeout: config.MetadataTimeout,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
		},
	}

	return &APIClient{
		Client: client,
		config: config,
	}
}

// Do sends the request with no extra headers; catalog callers set their own
// persona headers per request.
func (ac *APIClient) Do(req *http.Request) (*http.Response, error) {
	return ac.Client.Do(req)
}

// NewStreamClient creates the client used for media stream fetches.
func NewStreamClient(config *config.Config) *StreamClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &StreamClient{
		Client: client,
		config: config,
	}
}

func (sc *StreamClient) Do(req *http.Request) (*http.Response, error) {
	sc.setHeaders(req)
	return sc.Client.Do(req)
}

func (sc *StreamClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", sc.config.StreamUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")
}

// CustomResponseWriter implementation
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	return crw.ResponseWriter.Write(b)
}

// StatusCode returns the status code written so far, or 0 if none.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

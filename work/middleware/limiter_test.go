package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimiterRejectsBeyondCap(t *testing.T) {
	limiter := NewConnectionLimiter(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	// the handler runs again for the third request once the slot frees up,
	// so only the first invocation may close the entered channel
	var enteredOnce sync.Once
	wrapped := limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		enteredOnce.Do(func() { close(entered) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		wrapped(first, httptest.NewRequest(http.MethodGet, "/merge-download", nil))
		close(done)
	}()
	<-entered

	// the slot is held, so a concurrent request is turned away
	second := httptest.NewRecorder()
	wrapped(second, httptest.NewRequest(http.MethodGet, "/merge-download", nil))
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)

	close(release)
	<-done
	require.Equal(t, http.StatusOK, first.Code)

	// the slot is free again
	third := httptest.NewRecorder()
	wrapped(third, httptest.NewRequest(http.MethodGet, "/merge-download", nil))
	assert.Equal(t, http.StatusOK, third.Code)
}

func TestConnectionLimiterSharedAcrossRoutes(t *testing.T) {
	limiter := NewConnectionLimiter(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	direct := limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})
	merge := limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go direct(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/direct-download", nil))
	<-entered

	rec := httptest.NewRecorder()
	merge(rec, httptest.NewRequest(http.MethodGet, "/merge-download", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
}

func TestConnectionLimiterDisabledWhenNonPositive(t *testing.T) {
	limiter := NewConnectionLimiter(0)

	wrapped := limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	wrapped(rec, httptest.NewRequest(http.MethodGet, "/merge-download", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/history"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/utils"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/crypto/bcrypt"
)

// StatusResponse represents system statistics exposed through the admin API,
// providing operational metrics for monitoring and capacity planning.
type StatusResponse struct {
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	Goroutines    int    `json:"goroutines"`
	WorkerThreads int    `json:"workerThreads"`
	WorkerRunning int    `json:"workerRunning"`
	WorkerFree    int    `json:"workerFree"`
	TempDir       string `json:"tempDir"`
	LogLevel      string `json:"logLevel"`
}

var (
	// adminStartTime records process start for uptime reporting.
	adminStartTime = time.Now()

	// restartChan signals a graceful configuration reload initiated through
	// the admin interface.
	restartChan = make(chan bool, 1)
)

// setupAdminRoutes registers the admin API endpoints. All of them sit
// behind basic auth when an admin password hash is configured.
func setupAdminRoutes(router *mux.Router, cfg *config.Config, pool *ants.Pool, hist *history.Store) {
	router.HandleFunc("/admin/status", adminAuth(cfg, handleStatus(cfg, pool))).Methods("GET")
	router.HandleFunc("/admin/history", adminAuth(cfg, handleAdminHistory(hist))).Methods("GET")
	router.HandleFunc("/admin/restart", adminAuth(cfg, handleRestart)).Methods("POST")
}

// adminAuth guards an admin endpoint with HTTP basic auth against the
// configured bcrypt hash. With no hash configured the endpoints are open;
// deployments exposing the admin surface publicly must set one.
func adminAuth(cfg *config.Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.AdminPasswordHash == "" {
			next(w, r)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func handleStatus(cfg *config.Config, pool *ants.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		resp := StatusResponse{
			Version:       Version,
			Uptime:        time.Since(adminStartTime).Round(time.Second).String(),
			MemoryUsage:   utils.FormatBytes(int64(mem.Alloc)),
			Goroutines:    runtime.NumGoroutine(),
			WorkerThreads: cfg.WorkerThreads,
			WorkerRunning: pool.Running(),
			WorkerFree:    pool.Free(),
			TempDir:       cfg.TempDir,
			LogLevel:      logger.GetLogLevel(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleAdminHistory(hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := hist.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func handleRestart(w http.ResponseWriter, r *http.Request) {
	select {
	case restartChan <- true:
		logger.Info("{admin - handleRestart} graceful restart requested")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("restart scheduled"))
	default:
		http.Error(w, "restart already pending", http.StatusConflict)
	}
}

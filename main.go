package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytgrab-proxy/work/catalog"
	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/handlers"
	"ytgrab-proxy/work/history"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/middleware"
	"ytgrab-proxy/work/pipeline"
	"ytgrab-proxy/work/proxystream"
	"ytgrab-proxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// transient files do not survive a restart; start from a clean slate
	if err := os.RemoveAll(cfg.TempDir); err != nil {
		logger.Warn("{main} failed to clear temp dir %s: %v", cfg.TempDir, err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		log.Fatalf("Failed to create temp dir %s: %v", cfg.TempDir, err)
	}

	// Initialize HTTP clients: short-timeout metadata calls, unbounded
	// streaming transfers
	apiClient := client.NewAPIClient(cfg)
	streamClient := client.NewStreamClient(cfg)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Initialize retention janitor for merged outputs
	janitor := pipeline.NewJanitor(cfg.CleanupRetention, cfg.CleanupRetention/10)
	defer janitor.Close()

	// Optional download history
	var hist *history.Store
	if cfg.HistoryDBPath != "" {
		hist, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Warn("{main} history disabled: %v", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	// Wire the download components
	adapter := catalog.NewAdapter(cfg, apiClient)
	fetcher := pipeline.NewFetcher(cfg, streamClient, workerPool)
	remuxer := pipeline.NewFFmpegRemuxer(cfg)
	pl := pipeline.New(cfg, fetcher, remuxer, janitor)
	streamer := proxystream.New(cfg, streamClient)

	handler := handlers.New(cfg, adapter, pl, streamer, hist)

	// Setup HTTP routes
	router := mux.NewRouter()

	// Quality listing for a locator
	router.HandleFunc("/download", middleware.GzipMiddleware(handler.HandleDownloadOptions)).Methods("POST")

	// Media delivery routes stay uncompressed; payloads are already
	// compressed containers and range headers must survive untouched.
	// They share one connection cap because each holds its socket for the
	// whole transfer.
	limiter := middleware.NewConnectionLimiter(cfg.MaxConnectionsToApp)
	router.HandleFunc("/direct-download", limiter.Wrap(handler.HandleDirectDownload)).Methods("GET")
	router.HandleFunc("/merge-download", limiter.Wrap(handler.HandleMergeDownload)).Methods("GET")

	// Recent download history
	router.HandleFunc("/history", middleware.GzipMiddleware(handler.HandleHistory)).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, cfg, workerPool, hist)

	addr := fmt.Sprintf(":%d", cfg.Port)

	// show info
	logger.Info("Starting YTGrab Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Temp Dir: %s", cfg.TempDir)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Max File Size: %s", utils.FormatBytes(cfg.MaxFileSizeBytes()))
	logger.Info("  - Fetch Timeout: %s", cfg.FetchTimeout)
	logger.Info("  - Remux Timeout: %s", cfg.RemuxTimeout)
	logger.Info("  - Cleanup Retention: %s", cfg.CleanupRetention)
	logger.Info("  - Persona Rate Limit: %d req/sec", cfg.PersonaRateLimit)
	logger.Info("  - History Enabled: %v", hist != nil)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully reload configuration when requested
	go func() {
		for {
			<-restartChan

			if cfg.Debug {
				logger.Info("Graceful restart requested...")
			}

			// CLEAR CONFIG CACHE FIRST
			config.ClearConfigCache()

			// Reload config from file
			newConfig := config.LoadConfig()
			*cfg = *newConfig

			if cfg.Debug {
				logger.SetLogLevel("DEBUG")
			} else {
				logger.SetLogLevel("INFO")
			}

			logger.Info("Graceful restart completed")
		}
	}()

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}

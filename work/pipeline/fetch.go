package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"ytgrab-proxy/work/buffer"
	"ytgrab-proxy/work/client"
	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"
	"ytgrab-proxy/work/utils"

	"github.com/panjf2000/ants/v2"
)

// Fetcher streams remote media payloads to local transient files. Transfers
// go through the shared worker pool so a burst of merge requests cannot
// spawn unbounded goroutines, and through pooled chunk buffers so nothing
// is ever held fully in memory.
type Fetcher struct {
	cfg     *config.Config
	client  *client.StreamClient
	pool    *ants.Pool
	buffers *buffer.Pool
}

func NewFetcher(cfg *config.Config, streamClient *client.StreamClient, pool *ants.Pool) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		client:  streamClient,
		pool:    pool,
		buffers: buffer.NewPool(buffer.ChunkSize),
	}
}

// FetchToFile downloads one stream to dest in chunks. Each fetch carries
// its own timeout, materially longer than metadata timeouts since media
// payloads are large. A non-2xx status or mid-transfer error fails the
// fetch; the partial file is left for the caller's cleanup pass.
func (f *Fetcher) FetchToFile(ctx context.Context, streamURL, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch failed for %s: %w", utils.LogURL(f.cfg.ObfuscateUrls, streamURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch got status %d for %s", resp.StatusCode, utils.LogURL(f.cfg.ObfuscateUrls, streamURL))
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	buf := f.buffers.Get()
	defer f.buffers.Put(buf)

	written, err := io.CopyBuffer(out, resp.Body, buf)
	metrics.BytesTransferred.WithLabelValues("upstream").Add(float64(written))
	if err != nil {
		return fmt.Errorf("fetch interrupted after %s: %w", utils.FormatBytes(written), err)
	}

	logger.Debug("{fetch - FetchToFile} fetched %s to %s", utils.FormatBytes(written), dest)
	return nil
}

// fetchJob pairs one stream with its destination file.
type fetchJob struct {
	url  string
	dest string
}

// FetchAll runs the jobs concurrently on the worker pool and returns the
// first error encountered. All jobs run to completion either way, so the
// caller's cleanup sees every file that may have been created.
func (f *Fetcher) FetchAll(ctx context.Context, jobs []fetchJob) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, job := range jobs {
		job := job
		wg.Add(1)
		run := func() {
			defer wg.Done()
			if err := f.FetchToFile(ctx, job.url, job.dest); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
		if err := f.pool.Submit(run); err != nil {
			// pool saturated or closed; run inline rather than dropping
			run()
		}
	}

	wg.Wait()
	return firstErr
}

// Package pipeline orchestrates the acquire-mux flow: fetch the selected
// video and audio streams to transient files, remux them into one playable
// output, validate it, and guarantee cleanup on every terminal path.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/selector"
	"ytgrab-proxy/work/utils"

	"github.com/google/uuid"
)

// State enumerates the pipeline's explicit stages. Every run ends in Done
// or Failed; no other state is terminal.
type State int

const (
	StateIdle State = iota
	StateFetchingVideo
	StateFetchingAudio
	StateRemuxing
	StateValidating
	StateServing
	StateCleaningUp
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingVideo:
		return "fetching_video"
	case StateFetchingAudio:
		return "fetching_audio"
	case StateRemuxing:
		return "remuxing"
	case StateValidating:
		return "validating"
	case StateServing:
		return "serving"
	case StateCleaningUp:
		return "cleaning_up"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

// Failure kinds carried by pipeline errors.
const (
	KindFetchFailed = "upstream_fetch_failed"
	KindRemuxFailed = "remux_failed"
	KindTooLarge    = "output_too_large"
)

// Error is a terminal pipeline failure. By the time it surfaces, every
// transient file from the run has been removed.
type Error struct {
	Kind   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Result points at the merged output. The file is already scheduled for
// retention cleanup; callers must serve it before the window elapses.
type Result struct {
	Path string
	Size int64
}

// Pipeline runs acquire-mux executions. Safe for concurrent use; every run
// owns uniquely named files.
type Pipeline struct {
	cfg     *config.Config
	fetcher *Fetcher
	remuxer Remuxer
	janitor *Janitor
}

func New(cfg *config.Config, fetcher *Fetcher, remuxer Remuxer, janitor *Janitor) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		remuxer: remuxer,
		janitor: janitor,
	}
}

// run tracks one execution's state and the files it has created, so any
// failure path can remove exactly what this run put on disk.
type run struct {
	id    string
	state State
	files []string
}

func (r *run) to(s State) {
	logger.Debug("{pipeline - run %s} %s -> %s", r.id, r.state, s)
	r.state = s
}

// AcquireMux executes the full pipeline for an adaptive selection. baseName
// seeds the output filename (typically the video title); uniqueness comes
// from a per-run identifier, never from the caller.
func (p *Pipeline) AcquireMux(ctx context.Context, sel *selector.Selection, baseName string) (*Result, error) {
	if sel == nil || sel.Video == nil || sel.Audio == nil {
		return nil, &Error{Kind: KindFetchFailed, Detail: "selection has no adaptive pair"}
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0755); err != nil {
		return nil, &Error{Kind: KindFetchFailed, Detail: "temp dir unavailable: " + err.Error()}
	}

	base := utils.SanitizeFilename(baseName)
	if base == "" {
		base = "video"
	}

	r := &run{id: uuid.NewString(), state: StateIdle}
	videoPath := filepath.Join(p.cfg.TempDir, fmt.Sprintf("%s_video_%s.%s", base, r.id, sel.Video.Container))
	audioPath := filepath.Join(p.cfg.TempDir, fmt.Sprintf("%s_audio_%s.%s", base, r.id, sel.Audio.Container))
	outputPath := filepath.Join(p.cfg.TempDir, fmt.Sprintf("%s_%s.mp4", base, r.id))
	r.files = []string{videoPath, audioPath, outputPath}

	// Video and audio transfers run concurrently on the worker pool; the
	// two fetch states are both active for the duration.
	r.to(StateFetchingVideo)
	r.to(StateFetchingAudio)
	err := p.fetcher.FetchAll(ctx, []fetchJob{
		{url: sel.Video.StreamURL, dest: videoPath},
		{url: sel.Audio.StreamURL, dest: audioPath},
	})
	if err != nil {
		return nil, p.fail(r, KindFetchFailed, err.Error())
	}

	r.to(StateRemuxing)
	if err := p.remuxer.Remux(ctx, videoPath, audioPath, outputPath); err != nil {
		return nil, p.fail(r, KindRemuxFailed, err.Error())
	}

	r.to(StateValidating)
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return nil, p.fail(r, KindRemuxFailed, "remux produced no output")
	}
	if info.Size() > p.cfg.MaxFileSizeBytes() {
		return nil, p.fail(r, KindTooLarge, fmt.Sprintf(
			"merged output is %s, limit is %d MB",
			utils.FormatBytes(info.Size()), p.cfg.MaxFileSizeMB))
	}

	// Inputs served their purpose; only the merged output survives, and
	// only until its retention window elapses.
	r.to(StateCleaningUp)
	p.removeFile(videoPath)
	p.removeFile(audioPath)
	p.janitor.Schedule(outputPath)

	r.to(StateDone)
	return &Result{Path: outputPath, Size: info.Size()}, nil
}

// fail removes every file this run created and returns the terminal error.
func (p *Pipeline) fail(r *run, kind, detail string) *Error {
	r.to(StateCleaningUp)
	for _, f := range r.files {
		p.removeFile(f)
	}
	r.to(StateFailed)
	logger.Error("{pipeline - run %s} failed: %s: %s", r.id, kind, detail)
	return &Error{Kind: kind, Detail: detail}
}

func (p *Pipeline) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("{pipeline - removeFile} failed to remove %s: %v", path, err)
	}
}

// Package batch fans a set of cleaning photos out across a bounded worker
// pool, runs the normalize → classify → decide pipeline per image, and
// aggregates the per-image results into a job summary. One image's failure
// never aborts its siblings.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/cleaning-check/internal/utils"
	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/normalizer"
	"github.com/menta2k/cleaning-check/pkg/types"
	"github.com/menta2k/cleaning-check/pkg/verdict"
)

// MaxWorkers bounds the concurrent image pipelines per job.
const MaxWorkers = 8

// Degraded-path comments, surfaced to the operator verbatim.
const (
	dryRunComment      = "（ドライラン）APIキー未設定のため実解析は未実施"
	decodeFailComment  = "画像の読み込みに失敗しました"
	classifyFailFormat = "解析失敗: %v"
)

// Orchestrator runs batches. The normalizer and verdict engine are shared
// across jobs; both are safe for concurrent use.
type Orchestrator struct {
	norm   *normalizer.Normalizer
	engine *verdict.Engine
	log    *zap.SugaredLogger
}

// New creates an Orchestrator. A nil logger disables logging.
func New(norm *normalizer.Normalizer, engine *verdict.Engine, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{norm: norm, engine: engine, log: log}
}

// Options configures one batch run.
type Options struct {
	// ScratchRoot is the directory under which the per-job scratch
	// directory is created. Empty means the system temp directory.
	ScratchRoot string
	Thresholds  types.Thresholds
	Defaults    types.Defaults
}

// Result is one finished batch: the summary, the results sorted by index,
// the scratch directory holding the saved normalized images, and the job ID.
// The caller owns the scratch directory and disposes of it when done.
type Result struct {
	Summary *types.JobSummary
	Results []types.ImageResult
	Dir     string
	JobID   string
}

// NewJobID generates a time-derived identifier unique per invocation.
func NewJobID() string {
	return "J" + time.Now().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// Run processes all images and returns the aggregated result. It fails fast
// only on scratch directory setup; after dispatch every image runs to
// completion or individual failure.
func (o *Orchestrator) Run(ctx context.Context, images []types.ImageInput, cls client.Classifier, opts Options) (*Result, error) {
	jobID := NewJobID()

	dir, err := os.MkdirTemp(opts.ScratchRoot, "analyze_")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	workers := len(images)
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	resultCh := make(chan types.ImageResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range images {
		i, in := i, in
		g.Go(func() error {
			resultCh <- o.analyzeOne(gctx, i, in, cls, dir, opts)
			return nil
		})
	}
	_ = g.Wait()
	close(resultCh)

	// Workers complete in arbitrary order; restore the input ordering here.
	results := make([]types.ImageResult, 0, len(images))
	for r := range resultCh {
		results = append(results, r)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	return &Result{
		Summary: Summarize(results),
		Results: results,
		Dir:     dir,
		JobID:   jobID,
	}, nil
}

// analyzeOne runs the full pipeline for a single image. Every failure mode
// degrades into the returned result instead of propagating.
func (o *Orchestrator) analyzeOne(ctx context.Context, index int, in types.ImageInput, cls client.Classifier, dir string, opts Options) types.ImageResult {
	srcName := in.Name
	if srcName == "" {
		srcName = fmt.Sprintf("%04d.jpg", index)
	}
	safeName := fmt.Sprintf("%04d_%s", index, utils.SanitizeFilename(filepath.Base(srcName)))

	var (
		resp   *types.ClassificationResponse
		qflags []string
	)

	norm, err := o.norm.Normalize(in.Data)
	switch {
	case err != nil:
		o.log.Warnw("image decode failed", "job_index", index, "file", srcName, "error", err)
		resp = client.Placeholder(decodeFailComment)
	case !cls.Available():
		qflags = norm.QualityFlags
		resp = client.Placeholder(dryRunComment)
	default:
		qflags = norm.QualityFlags
		resp, err = cls.Classify(ctx, norm.Data)
		if err != nil {
			o.log.Warnw("classification failed", "job_index", index, "file", srcName, "error", err)
			resp = client.Placeholder(fmt.Sprintf(classifyFailFormat, err))
		}
	}

	if norm != nil {
		if werr := os.WriteFile(filepath.Join(dir, safeName), norm.Data, 0o644); werr != nil {
			o.log.Warnw("scratch write failed", "file", safeName, "error", werr)
		}
	}

	return types.ImageResult{
		Index:        index,
		File:         safeName,
		Labels:       resp.Labels,
		Scores:       resp.Scores,
		Comments:     resp.Comments,
		QualityFlags: qflags,
		Verdict:      o.engine.Decide(resp.Scores, resp.Comments, verdict.Options{Thresholds: opts.Thresholds, Defaults: opts.Defaults}),
		Stage:        types.StageNano,
		Presence:     resp.Presence,
	}
}

// Summarize computes verdict counts, stage counts and the presence-evidence
// index lists. Only a strict boolean true contributes evidence; false and
// indeterminate are excluded.
func Summarize(results []types.ImageResult) *types.JobSummary {
	s := &types.JobSummary{
		CountsByStage:    map[types.Stage]int{types.StageNano: 0, types.StageMini: 0, types.StageFull: 0},
		PresenceEvidence: make(map[string][]int, len(types.PresenceKeys)),
	}
	for _, k := range types.PresenceKeys {
		s.PresenceEvidence[k] = []int{}
	}

	for _, r := range results {
		switch r.Verdict {
		case types.VerdictOK:
			s.OK++
		case types.VerdictNG:
			s.NG++
		default:
			s.Unknown++
		}
		s.CountsByStage[r.Stage]++
		for _, k := range types.PresenceKeys {
			if v, ok := r.Presence[k]; ok && v != nil && *v {
				s.PresenceEvidence[k] = append(s.PresenceEvidence[k], r.Index)
			}
		}
	}
	return s
}

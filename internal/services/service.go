// Package services ties one analysis run to its bookkeeping: usage counters,
// the lightweight JSON run log, and the KPI tables.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cleaning-check/internal/storage"
	"github.com/menta2k/cleaning-check/pkg/batch"
	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/types"
)

// Service runs batches for tenants and records the outcome.
type Service struct {
	orch    *batch.Orchestrator
	store   *storage.Store
	logRoot string
	log     *zap.SugaredLogger
}

// New wires a Service. logRoot is where run logs land; empty disables them.
func New(orch *batch.Orchestrator, store *storage.Store, logRoot string, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{orch: orch, store: store, logRoot: logRoot, log: log}
}

// runLog is the lightweight per-job JSON record kept alongside the KPI rows.
type runLog struct {
	Timestamp        string              `json:"timestamp"`
	User             string              `json:"user"`
	Prop             string              `json:"prop"`
	JobID            string              `json:"job_id"`
	Images           int                 `json:"images"`
	OK               int                 `json:"ok"`
	NG               int                 `json:"ng"`
	Unknown          int                 `json:"unknown"`
	StageCounts      map[types.Stage]int `json:"stage_counts"`
	PresenceEvidence map[string]int      `json:"presence_evidence"`
}

// RunAndRecord runs the batch, then records monthly usage, the run log, and
// the job + per-image KPI rows. Recording failures are logged, not fatal: the
// analysis result is already in hand and is always returned.
func (s *Service) RunAndRecord(ctx context.Context, tenant, property string, images []types.ImageInput, cls client.Classifier, opts batch.Options) (*batch.Result, error) {
	tsStart := time.Now()

	res, err := s.orch.Run(ctx, images, cls, opts)
	if err != nil {
		return nil, err
	}

	tsEnd := time.Now()
	ym := storage.MonthKey(tsEnd)

	if s.store != nil {
		if err := s.store.AddMonthlyUsage(tenant, property, ym, len(images), 1); err != nil {
			s.log.Errorw("usage recording failed", "job_id", res.JobID, "error", err)
		}
		if err := s.store.WriteJob(storage.Job{
			JobID:    res.JobID,
			Tenant:   tenant,
			Property: property,
			YM:       ym,
			TsStart:  tsStart,
			TsEnd:    tsEnd,
			Images:   len(images),
			OK:       res.Summary.OK,
			NG:       res.Summary.NG,
			Unknown:  res.Summary.Unknown,
		}); err != nil {
			s.log.Errorw("job recording failed", "job_id", res.JobID, "error", err)
		}
		if err := s.store.WriteJobResults(res.JobID, res.Results); err != nil {
			s.log.Errorw("job result recording failed", "job_id", res.JobID, "error", err)
		}
	}

	if err := s.saveRunLog(tenant, property, res); err != nil {
		s.log.Errorw("run log write failed", "job_id", res.JobID, "error", err)
	}

	return res, nil
}

func (s *Service) saveRunLog(tenant, property string, res *batch.Result) error {
	if s.logRoot == "" {
		return nil
	}
	now := time.Now()
	dir := filepath.Join(s.logRoot, tenant, now.Format("2006-01"), property)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	evidence := make(map[string]int, len(res.Summary.PresenceEvidence))
	for k, v := range res.Summary.PresenceEvidence {
		evidence[k] = len(v)
	}
	rec := runLog{
		Timestamp:        now.Format(time.RFC3339),
		User:             tenant,
		Prop:             property,
		JobID:            res.JobID,
		Images:           len(res.Results),
		OK:               res.Summary.OK,
		NG:               res.Summary.NG,
		Unknown:          res.Summary.Unknown,
		StageCounts:      res.Summary.CountsByStage,
		PresenceEvidence: evidence,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s.json", res.JobID)), data, 0o644)
}

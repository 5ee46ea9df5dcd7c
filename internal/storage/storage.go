// Package storage persists monthly usage counters and per-job KPI rows in
// SQLite. It is a consumer of the batch layer's outputs; the analysis core
// never touches it directly.
package storage

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// UsageMonthly tracks images and runs consumed per tenant/property/month.
type UsageMonthly struct {
	Tenant     string `gorm:"primaryKey"`
	Property   string `gorm:"primaryKey"`
	YM         string `gorm:"primaryKey;column:ym"`
	ImagesUsed int    `gorm:"not null;default:0"`
	RunsUsed   int    `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

func (UsageMonthly) TableName() string { return "usage_monthly" }

// Job is the per-invocation KPI row.
type Job struct {
	JobID    string `gorm:"primaryKey;column:job_id"`
	Tenant   string `gorm:"not null;index:idx_jobs_tenant_ym"`
	Property string `gorm:"not null"`
	YM       string `gorm:"not null;column:ym;index:idx_jobs_tenant_ym"`
	TsStart  time.Time
	TsEnd    time.Time
	Images   int
	OK       int `gorm:"column:ok"`
	NG       int `gorm:"column:ng"`
	Unknown  int
}

func (Job) TableName() string { return "jobs" }

// JobResult is one image's verdict row, kept as billing/audit evidence.
type JobResult struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	JobID   string `gorm:"not null;index;column:job_id"`
	Idx     int    `gorm:"not null"`
	File    string
	Verdict string
	Stage   string
}

func (JobResult) TableName() string { return "job_results" }

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&UsageMonthly{}, &Job{}, &JobResult{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// MonthKey formats a time as the YYYYMM bucket key.
func MonthKey(t time.Time) string { return t.Format("200601") }

// GetMonthlyUsage returns (imagesUsed, runsUsed) for the bucket, creating an
// empty row on first read.
func (s *Store) GetMonthlyUsage(tenant, property, ym string) (int, int, error) {
	var row UsageMonthly
	err := s.db.Where("tenant = ? AND property = ? AND ym = ?", tenant, property, ym).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = UsageMonthly{Tenant: tenant, Property: property, YM: ym, UpdatedAt: time.Now()}
		if cerr := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; cerr != nil {
			return 0, 0, cerr
		}
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return row.ImagesUsed, row.RunsUsed, nil
}

// AddMonthlyUsage upserts the bucket, adding the given deltas. Negative
// deltas are clamped to zero.
func (s *Store) AddMonthlyUsage(tenant, property, ym string, addImages, addRuns int) error {
	if addImages < 0 {
		addImages = 0
	}
	if addRuns < 0 {
		addRuns = 0
	}
	now := time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant"}, {Name: "property"}, {Name: "ym"}},
		DoUpdates: clause.Assignments(map[string]any{
			"images_used": gorm.Expr("images_used + ?", addImages),
			"runs_used":   gorm.Expr("runs_used + ?", addRuns),
			"updated_at":  now,
		}),
	}).Create(&UsageMonthly{
		Tenant: tenant, Property: property, YM: ym,
		ImagesUsed: addImages, RunsUsed: addRuns, UpdatedAt: now,
	}).Error
}

// WriteJob records (or replaces) one job's KPI row.
func (s *Store) WriteJob(job Job) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&job).Error
}

// WriteJobResults bulk-inserts the per-image rows for a job.
func (s *Store) WriteJobResults(jobID string, results []types.ImageResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]JobResult, 0, len(results))
	for _, r := range results {
		rows = append(rows, JobResult{
			JobID:   jobID,
			Idx:     r.Index,
			File:    r.File,
			Verdict: string(r.Verdict),
			Stage:   string(r.Stage),
		})
	}
	return s.db.Create(&rows).Error
}

// KPIRow is the per-property monthly aggregate.
type KPIRow struct {
	Property string  `json:"property"`
	Jobs     int     `json:"jobs"`
	Images   int     `json:"images"`
	OK       int     `json:"ok"`
	NG       int     `json:"ng"`
	Unknown  int     `json:"unknown"`
	NGRate   float64 `json:"ng_rate"`
}

// QueryMonthlyKPI aggregates jobs per property for one tenant/month.
func (s *Store) QueryMonthlyKPI(tenant, ym string) ([]KPIRow, error) {
	var rows []KPIRow
	err := s.db.Model(&Job{}).
		Select("property, COUNT(*) AS jobs, SUM(images) AS images, SUM(ok) AS ok, SUM(ng) AS ng, SUM(unknown) AS unknown").
		Where("tenant = ? AND ym = ?", tenant, ym).
		Group("property").
		Order("property").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		total := rows[i].OK + rows[i].NG + rows[i].Unknown
		if total > 0 {
			rows[i].NGRate = float64(rows[i].NG) / float64(total)
		}
	}
	return rows, nil
}

// QueryMonthlyJobs returns the per-job detail rows for one tenant/month,
// optionally filtered by property, ordered by start time.
func (s *Store) QueryMonthlyJobs(tenant, ym, property string) ([]Job, error) {
	q := s.db.Where("tenant = ? AND ym = ?", tenant, ym)
	if property != "" {
		q = q.Where("property = ?", property)
	}
	var jobs []Job
	err := q.Order("ts_start").Find(&jobs).Error
	return jobs, err
}

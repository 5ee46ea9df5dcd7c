// Package httpapi exposes the analysis core to operator tooling over HTTP.
// It is a thin collaborator layer: upload handling, quota enforcement and
// export downloads on top of the fields the batch layer guarantees.
package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/cleaning-check/internal/config"
	"github.com/menta2k/cleaning-check/internal/services"
	"github.com/menta2k/cleaning-check/internal/storage"
	"github.com/menta2k/cleaning-check/pkg/batch"
	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/export"
	"github.com/menta2k/cleaning-check/pkg/types"
	"github.com/menta2k/cleaning-check/pkg/verdict"
)

// Server serves the cleaning-check API.
type Server struct {
	cfg   *config.Config
	svc   *services.Service
	store *storage.Store
	cls   client.Classifier
	log   *zap.SugaredLogger

	mu   sync.Mutex
	jobs map[string]*batch.Result
}

// New wires a Server.
func New(cfg *config.Config, svc *services.Service, store *storage.Store, cls client.Classifier, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:   cfg,
		svc:   svc,
		store: store,
		cls:   cls,
		log:   log,
		jobs:  make(map[string]*batch.Result),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.MaxMultipartMemory = 32 << 20

	api := r.Group("/api", s.auth)
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/kpi", s.handleKPI)
	api.GET("/jobs", s.handleJobs)
	api.GET("/jobs/:id/export.csv", s.handleExportCSV)
	api.GET("/jobs/:id/export.json", s.handleExportJSON)
	api.GET("/jobs/:id/images.zip", s.handleExportZip)
	api.DELETE("/jobs/:id", s.handleDeleteJob)
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	return s.Router().Run(s.cfg.Server.Addr)
}

// auth enforces the configured bearer token. No token configured means the
// API is open (local single-operator deployments).
func (s *Server) auth(c *gin.Context) {
	token := s.cfg.Server.APIToken
	if token == "" {
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if got != token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	tenant := strings.TrimSpace(c.PostForm("tenant"))
	property := strings.TrimSpace(c.PostForm("property"))
	if tenant == "" || property == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant and property are required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images uploaded"})
		return
	}

	if !s.checkQuota(c, tenant, property, len(files)) {
		return
	}

	images := make([]types.ImageInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("failed to read upload %s: %v", fh.Filename, err)})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("failed to read upload %s: %v", fh.Filename, err)})
			return
		}
		images = append(images, types.ImageInput{Name: fh.Filename, Data: data})
	}

	opts := s.batchOptions(c)
	res, err := s.svc.RunAndRecord(c.Request.Context(), tenant, property, images, s.cls, opts)
	if err != nil {
		s.log.Errorw("analysis failed", "tenant", tenant, "property", property, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.jobs[res.JobID] = res
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"job_id":  res.JobID,
		"summary": res.Summary,
		"images":  res.Results,
	})
}

// batchOptions folds the per-request overrides into the configured defaults.
func (s *Server) batchOptions(c *gin.Context) batch.Options {
	opts := batch.Options{
		ScratchRoot: s.cfg.Storage.ScratchRoot,
		Thresholds: types.Thresholds{
			OKWhitelist:      splitParam(c.PostForm("ok_whitelist")),
			RecheckWhitelist: s.cfg.Analysis.RecheckWhitelist,
		},
		Defaults: types.Defaults{
			ConfTh:            s.cfg.Analysis.ConfTh,
			OKWhitelistGlobal: strings.Join(s.cfg.Analysis.OKWhitelistGlobal, "\n"),
		},
	}
	if v := c.PostForm("conf_th"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			opts.Defaults.ConfTh = f
		}
	}
	if rw := splitParam(c.PostForm("recheck_whitelist")); len(rw) > 0 {
		opts.Thresholds.RecheckWhitelist = append(opts.Thresholds.RecheckWhitelist, rw...)
	}
	return opts
}

func splitParam(block string) []string {
	return verdict.SplitLines(block)
}

// checkQuota rejects the run when the monthly image or run quota would be
// exceeded. Returns false after writing the response.
func (s *Server) checkQuota(c *gin.Context, tenant, property string, addImages int) bool {
	if s.store == nil {
		return true
	}
	ym := storage.MonthKey(time.Now())
	imagesUsed, runsUsed, err := s.store.GetMonthlyUsage(tenant, property, ym)
	if err != nil {
		s.log.Errorw("quota lookup failed", "tenant", tenant, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return false
	}
	if q := s.cfg.Server.QuotaImages; q > 0 && imagesUsed+addImages > q {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "monthly image quota exceeded"})
		return false
	}
	if q := s.cfg.Server.QuotaRuns; q > 0 && runsUsed+1 > q {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "monthly run quota exceeded"})
		return false
	}
	return true
}

func (s *Server) job(c *gin.Context) (*batch.Result, bool) {
	s.mu.Lock()
	res, ok := s.jobs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
	}
	return res, ok
}

func (s *Server) handleExportCSV(c *gin.Context) {
	res, ok := s.job(c)
	if !ok {
		return
	}
	data, err := export.CSV(res.JobID, res.Results)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", res.JobID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func (s *Server) handleExportJSON(c *gin.Context) {
	res, ok := s.job(c)
	if !ok {
		return
	}
	data, err := export.JSON(res.JobID, res.Summary, res.Results)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", res.JobID))
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) handleExportZip(c *gin.Context) {
	res, ok := s.job(c)
	if !ok {
		return
	}
	want := types.Verdict(c.DefaultQuery("verdict", string(types.VerdictNG)))
	if want != types.VerdictOK && want != types.VerdictNG {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verdict must be ok or ng"})
		return
	}
	data, err := export.ZipByVerdict(res.Dir, res.Results, want)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s.zip", res.JobID, want))
	c.Data(http.StatusOK, "application/zip", data)
}

// handleDeleteJob evicts a job from the registry and disposes of its scratch
// directory. This is the explicit disposal step the core leaves to callers.
func (s *Server) handleDeleteJob(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	res, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if res.Dir != "" {
		if err := os.RemoveAll(res.Dir); err != nil {
			s.log.Warnw("scratch cleanup failed", "job_id", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleKPI(c *gin.Context) {
	tenant := c.Query("tenant")
	ym := c.DefaultQuery("ym", storage.MonthKey(time.Now()))
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required"})
		return
	}
	rows, err := s.store.QueryMonthlyKPI(tenant, ym)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant, "ym": ym, "kpi": rows})
}

func (s *Server) handleJobs(c *gin.Context) {
	tenant := c.Query("tenant")
	ym := c.DefaultQuery("ym", storage.MonthKey(time.Now()))
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required"})
		return
	}
	rows, err := s.store.QueryMonthlyJobs(tenant, ym, c.Query("property"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant, "ym": ym, "jobs": rows})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/menta2k/cleaning-check/internal/config"
	"github.com/menta2k/cleaning-check/internal/httpapi"
	"github.com/menta2k/cleaning-check/internal/logger"
	"github.com/menta2k/cleaning-check/internal/services"
	"github.com/menta2k/cleaning-check/internal/storage"
	"github.com/menta2k/cleaning-check/internal/utils"
	"github.com/menta2k/cleaning-check/pkg/batch"
	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/export"
	"github.com/menta2k/cleaning-check/pkg/normalizer"
	"github.com/menta2k/cleaning-check/pkg/ollama"
	"github.com/menta2k/cleaning-check/pkg/openai"
	"github.com/menta2k/cleaning-check/pkg/types"
	"github.com/menta2k/cleaning-check/pkg/verdict"
)

func main() {
	var cfgPath, in, outDir, tenant, property, mode string
	var serve bool
	var confTh float64

	flag.StringVar(&cfgPath, "config", "", "config file path (JSON)")
	flag.StringVar(&in, "in", "", "input directory of cleaning photos")
	flag.StringVar(&outDir, "out", "out", "output directory for exports")
	flag.StringVar(&tenant, "tenant", "local", "tenant id recorded against usage and KPIs")
	flag.StringVar(&property, "property", "default", "property name")
	flag.Float64Var(&confTh, "conf-th", 0, "score threshold override (0 = configured default)")
	flag.BoolVar(&serve, "serve", false, "start the HTTP API instead of a one-shot run")
	flag.StringVar(&mode, "log", "dev", "log mode: dev or prod")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(cfgPath); err != nil {
			log.Fatal(err)
		}
	}
	cfg.ApplyEnv()
	if confTh > 0 {
		cfg.Analysis.ConfTh = confTh
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(mode)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	cls, err := newClassifier(cfg)
	if err != nil {
		zlog.Fatalw("backend setup failed", "error", err)
	}
	if !cls.Available() {
		zlog.Warnw("classification backend not configured, running in dry-run mode")
	}

	if err := utils.EnsureDir(filepath.Dir(cfg.Storage.DBPath)); err != nil {
		zlog.Fatalw("storage setup failed", "error", err)
	}
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		zlog.Fatalw("database open failed", "error", err)
	}

	rules := verdict.MustCompile(verdict.DefaultRuleConfig())
	orch := batch.New(normalizer.New(), verdict.NewEngine(rules), zlog)
	svc := services.New(orch, store, cfg.Storage.LogRoot, zlog)

	if serve {
		srv := httpapi.New(cfg, svc, store, cls, zlog)
		zlog.Infow("serving", "addr", cfg.Server.Addr)
		if err := srv.Run(); err != nil {
			zlog.Fatalw("server stopped", "error", err)
		}
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in photos_dir [-config config.json] [-serve]", filepath.Base(os.Args[0]))
	}
	if err := runOnce(cfg, svc, cls, in, outDir, tenant, property, zlog); err != nil {
		zlog.Fatalw("run failed", "error", err)
	}
}

func newClassifier(cfg *config.Config) (client.Classifier, error) {
	switch cfg.Backend.Kind {
	case "ollama":
		return ollama.New(cfg.Backend.BaseURL, cfg.Backend.Model)
	default:
		return openai.New(openai.Options{
			APIKey:  cfg.Backend.APIKey,
			Model:   cfg.Backend.Model,
			BaseURL: cfg.Backend.BaseURL,
		}), nil
	}
}

func runOnce(cfg *config.Config, svc *services.Service, cls client.Classifier, in, outDir, tenant, property string, zlog *zap.SugaredLogger) error {
	paths, err := utils.ListImageFiles(in)
	if err != nil {
		return fmt.Errorf("failed to list input images: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found under %s", in)
	}

	images := make([]types.ImageInput, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		images = append(images, types.ImageInput{Name: filepath.Base(p), Data: data})
	}

	opts := batch.Options{
		ScratchRoot: cfg.Storage.ScratchRoot,
		Thresholds: types.Thresholds{
			RecheckWhitelist: cfg.Analysis.RecheckWhitelist,
		},
		Defaults: types.Defaults{
			ConfTh:            cfg.Analysis.ConfTh,
			OKWhitelistGlobal: strings.Join(cfg.Analysis.OKWhitelistGlobal, "\n"),
		},
	}
	res, err := svc.RunAndRecord(context.Background(), tenant, property, images, cls, opts)
	if err != nil {
		return err
	}
	zlog.Infow("batch finished",
		"job_id", res.JobID,
		"images", len(res.Results),
		"ok", res.Summary.OK,
		"ng", res.Summary.NG,
		"unknown", res.Summary.Unknown,
	)

	if err := utils.EnsureDir(outDir); err != nil {
		return err
	}
	if data, err := export.CSV(res.JobID, res.Results); err == nil {
		if werr := os.WriteFile(filepath.Join(outDir, res.JobID+".csv"), data, 0o644); werr != nil {
			return werr
		}
	}
	if data, err := export.JSON(res.JobID, res.Summary, res.Results); err == nil {
		if werr := os.WriteFile(filepath.Join(outDir, res.JobID+".json"), data, 0o644); werr != nil {
			return werr
		}
	}
	if res.Summary.NG > 0 {
		if data, err := export.ZipByVerdict(res.Dir, res.Results, types.VerdictNG); err == nil {
			if werr := os.WriteFile(filepath.Join(outDir, res.JobID+"_ng.zip"), data, 0o644); werr != nil {
				return werr
			}
		}
	}
	zlog.Infow("exports written", "dir", outDir, "scratch", res.Dir)
	return nil
}

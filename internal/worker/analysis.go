package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/metrics"
	"github.com/resource-economy/internal/service"
	"github.com/robfig/cron/v3"
)

// WeeklyAnalyzer runs the weekly economic analysis
type WeeklyAnalyzer interface {
	RunWeeklyAnalysis(ctx context.Context, week int) (*service.WeeklyAnalysis, error)
}

// AnalysisWorker runs the weekly analysis on a cron schedule
type AnalysisWorker struct {
	analyzer WeeklyAnalyzer
	config   *config.AnalysisConfig
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
	mu       sync.Mutex
	running  bool
}

// NewAnalysisWorker creates the worker and validates its schedule
func NewAnalysisWorker(analyzer WeeklyAnalyzer, cfg *config.AnalysisConfig, logger *slog.Logger) (*AnalysisWorker, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parsing analysis schedule %q: %w", cfg.Schedule, err)
	}

	w := &AnalysisWorker{
		analyzer: analyzer,
		config:   cfg,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		now:      time.Now,
	}
	if _, err := w.cron.AddFunc(cfg.Schedule, func() { w.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling analysis: %w", err)
	}
	return w, nil
}

// Start begins the schedule
func (w *AnalysisWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.cron.Start()
	w.logger.Info("analysis worker started", "schedule", w.config.Schedule)
}

// Stop stops the schedule and waits for a running analysis to finish
func (w *AnalysisWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()
	w.logger.Info("analysis worker stopped")
}

// RunOnce analyses the current ISO week
func (w *AnalysisWorker) RunOnce(ctx context.Context) {
	week := metrics.ISOWeek(w.now().UTC())
	startTime := time.Now()

	report, err := w.analyzer.RunWeeklyAnalysis(ctx, week)
	if err != nil {
		w.logger.Error("weekly analysis failed", "week", week, "error", err)
		return
	}

	w.logger.Info("weekly analysis completed",
		"week", week,
		"duration", time.Since(startTime),
		"alerts", len(report.Alerts),
	)
}

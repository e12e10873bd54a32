// Package schedule runs periodic ingestion for sites that configure a
// cron expression.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
	"github.com/nextlevelbuilder/inboxrelay/internal/ingest"
)

// Runner is the ingestion entry point the scheduler drives.
type Runner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Response, error)
}

// Scheduler ticks once a minute and fires an ingestion run for every site
// whose cron expression is due. A site with a run still in flight is
// skipped for that tick.
type Scheduler struct {
	cfg    *config.Config
	runner Runner
	gron   *gronx.Gronx

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(cfg *config.Config, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		gron:     gronx.New(),
		inFlight: map[string]bool{},
	}
}

// Start blocks until ctx is cancelled. The first tick is aligned to the
// next minute boundary so IsDue evaluates against a clean reference time.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("schedule.starting")
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			slog.Info("schedule.stopped")
			return
		case <-time.After(next.Sub(now)):
		}
		s.tick(ctx, next)
	}
}

func (s *Scheduler) tick(ctx context.Context, ref time.Time) {
	for name, site := range s.sites() {
		if site.Cron == "" {
			continue
		}
		due, err := s.gron.IsDue(site.Cron, ref)
		if err != nil {
			slog.Warn("schedule.bad_expression", "site", name, "cron", site.Cron, "error", err)
			continue
		}
		if !due {
			continue
		}
		if !s.begin(name) {
			slog.Warn("schedule.overlap_skipped", "site", name)
			continue
		}
		go s.runSite(ctx, name)
	}
}

// sites snapshots the configured sites; config may be hot-reloaded.
func (s *Scheduler) sites() map[string]config.SiteConfig {
	out := map[string]config.SiteConfig{}
	for _, name := range s.cfg.SiteNames() {
		if sc, ok := s.cfg.Site(name); ok {
			out[name] = sc
		}
	}
	return out
}

func (s *Scheduler) runSite(ctx context.Context, name string) {
	defer s.end(name)

	resp, err := s.runner.Run(ctx, ingest.Request{SiteID: name})
	if err != nil {
		slog.Warn("schedule.run_failed", "site", name, "error", err)
		return
	}
	slog.Info("schedule.run_completed",
		"site", name, "run_id", resp.RunID,
		"fetched", resp.Summary.OriginalCount, "survivors", resp.Summary.FinalCount)
}

func (s *Scheduler) begin(site string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[site] {
		return false
	}
	s.inFlight[site] = true
	return true
}

func (s *Scheduler) end(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, site)
}

// Package ingest orchestrates one mailbox intake run: fetch, filter,
// dispatch, poll, validate, record.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
	"github.com/nextlevelbuilder/inboxrelay/internal/dispatch"
	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
	"github.com/nextlevelbuilder/inboxrelay/internal/mailbox"
	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
	"github.com/nextlevelbuilder/inboxrelay/internal/store"
	"github.com/nextlevelbuilder/inboxrelay/internal/telemetry"
)

// runCeilingMargin pads the poll budget when deriving the wall-clock
// deadline for one run.
const runCeilingMargin = 60 * time.Second

// Service wires the run's collaborators together.
type Service struct {
	cfg       *config.Config
	mail      mailbox.Client
	pipe      *pipeline.Pipeline
	disp      *dispatch.Dispatcher
	poller    *dispatch.Poller
	processed store.ProcessedStore
}

func NewService(cfg *config.Config, mail mailbox.Client, pipe *pipeline.Pipeline, disp *dispatch.Dispatcher, poller *dispatch.Poller, processed store.ProcessedStore) *Service {
	return &Service{
		cfg:       cfg,
		mail:      mail,
		pipe:      pipe,
		disp:      disp,
		poller:    poller,
		processed: processed,
	}
}

// Run executes one ingestion run end to end. Zero survivors is a success
// with a reason, not an error; only the request/config/fetch/execution
// failures from the error taxonomy propagate.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	site, ok := s.cfg.Site(req.SiteID)
	if !ok || site.Address == "" {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotConfigured, req.SiteID)
	}

	// Snapshot the reloadable sections once; the file watcher may swap
	// them mid-run.
	procCfg := s.cfg.ProcessorCfg()
	mailCfg := s.cfg.MailboxCfg()

	pollCfg := procCfg.Poll.ToPollConfig()
	ceiling := time.Duration(pollCfg.MaxAttempts)*pollCfg.Interval + runCeilingMargin
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	runID := uuid.Must(uuid.NewV7()).String()
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "ingest.run")
	span.SetAttributes(attribute.String("site", req.SiteID), attribute.String("run_id", runID))
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = mailCfg.FetchLimit
	}

	mbCfg := mailbox.Config{
		Provider: mailCfg.Provider,
		Address:  site.Address,
		Secret:   map[string]string{"secret": site.Secret},
	}
	batch, err := s.mail.Fetch(ctx, mbCfg, limit, req.SinceDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	survivors, summary := s.pipe.Run(ctx, req.SiteID, site.ToSiteRules(), batch)
	slog.Info("ingest.filtered",
		"run_id", runID, "site", req.SiteID,
		"fetched", summary.OriginalCount, "survivors", summary.FinalCount)

	resp := &Response{RunID: runID, Site: req.SiteID, Summary: summary}
	if len(survivors) == 0 {
		resp.Reason = zeroSurvivorReason(summary)
		return resp, nil
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = procCfg.AgentID
	}
	item := s.disp.Build(agentID, req.SiteID, survivors, s.analysisContext(site, req))

	workItemID, err := s.disp.Submit(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %v", ErrCommandExecution, err)
	}
	resp.WorkItemID = workItemID

	if procCfg.DispatchMode == "detached" {
		resp.Detached = true
		go s.awaitDetached(runID, req.SiteID, workItemID, survivors, mbCfg, ceiling)
		return resp, nil
	}

	res := s.poller.Wait(ctx, workItemID)
	resp.PersistedID = res.PersistedID
	if !res.Completed {
		return nil, fmt.Errorf("%w: work item %s did not complete", ErrCommandExecution, workItemID)
	}
	if res.Degraded {
		resp.Partial = true
		if res.TimedOut {
			resp.Warning = "polling timed out; returning the results produced so far"
		} else {
			resp.Warning = "analysis ended in a failed state with usable results"
		}
	}
	if res.Item != nil {
		resp.Results = dispatch.ExtractResults(res.Item)
	}

	s.recordProcessed(ctx, runID, req.SiteID, workItemID, res.PersistedID, survivors)
	s.cleanupMailbox(ctx, mbCfg, survivors)
	return resp, nil
}

// analysisContext merges the site's standing context with per-request hints.
func (s *Service) analysisContext(site config.SiteConfig, req Request) string {
	ctx := site.AnalysisContext
	if req.AnalysisType != "" {
		ctx += "\nAnalysis type: " + req.AnalysisType
	}
	if req.LeadID != "" {
		ctx += "\nRelated lead: " + req.LeadID
	}
	return ctx
}

// awaitDetached finishes a background dispatch: poll, record, clean up.
// The caller already got its response; outcomes land in the log and the
// processed store only.
func (s *Service) awaitDetached(runID, siteID, workItemID string, survivors []*envelope.Envelope, mbCfg mailbox.Config, ceiling time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), ceiling)
	defer cancel()

	res := s.poller.Wait(ctx, workItemID)
	if !res.Completed {
		slog.Warn("ingest.detached_failed", "run_id", runID, "site", siteID, "work_item", workItemID)
		return
	}
	var results []json.RawMessage
	if res.Item != nil {
		results = dispatch.ExtractResults(res.Item)
	}
	slog.Info("ingest.detached_completed",
		"run_id", runID, "site", siteID, "work_item", workItemID,
		"results", len(results), "degraded", res.Degraded)

	s.recordProcessed(ctx, runID, siteID, workItemID, res.PersistedID, survivors)
	s.cleanupMailbox(ctx, mbCfg, survivors)
}

// recordProcessed upserts an idempotency marker for every survivor. Store
// errors degrade to a log line; the run's results were already produced.
func (s *Service) recordProcessed(ctx context.Context, runID, siteID, workItemID, persistedID string, survivors []*envelope.Envelope) {
	meta := map[string]string{
		"run_id":       runID,
		"work_item_id": workItemID,
	}
	if persistedID != "" {
		meta["persisted_id"] = persistedID
	}

	for _, env := range survivors {
		id, ok := envelope.ComputeID(env)
		if !ok {
			continue
		}
		key := store.ProcessedKey{EnvelopeID: id, Site: siteID, ObjectType: pipeline.ObjectTypeEmail}
		if err := s.processed.MarkProcessed(ctx, key, meta); err != nil {
			slog.Warn("ingest.mark_processed_failed",
				"run_id", runID, "site", siteID, "envelope_id", id, "error", err)
		}
	}
}

// cleanupMailbox deletes handled messages when the config asks for it.
// Best effort.
func (s *Service) cleanupMailbox(ctx context.Context, mbCfg mailbox.Config, survivors []*envelope.Envelope) {
	if !s.cfg.MailboxCfg().DeleteAfterProcessing {
		return
	}
	for _, env := range survivors {
		if env.ProviderID == "" {
			continue
		}
		if _, err := s.mail.Delete(ctx, mbCfg, env.ProviderID, false); err != nil {
			slog.Warn("ingest.mailbox_delete_failed", "provider_id", env.ProviderID, "error", err)
		}
	}
}

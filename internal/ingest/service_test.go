package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
	"github.com/nextlevelbuilder/inboxrelay/internal/crm"
	"github.com/nextlevelbuilder/inboxrelay/internal/dispatch"
	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
	"github.com/nextlevelbuilder/inboxrelay/internal/mailbox"
	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
	"github.com/nextlevelbuilder/inboxrelay/internal/processor"
	"github.com/nextlevelbuilder/inboxrelay/internal/store"
)

type fakeMailbox struct {
	messages []*envelope.Envelope
	fetchErr error

	mu      sync.Mutex
	deleted []string
}

func (f *fakeMailbox) Fetch(ctx context.Context, cfg mailbox.Config, limit int, since time.Time) ([]*envelope.Envelope, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit > 0 && len(f.messages) > limit {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func (f *fakeMailbox) Delete(ctx context.Context, cfg mailbox.Config, providerID string, fromSent bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, providerID)
	return true, nil
}

type fakeProcessed struct {
	mu     sync.Mutex
	marked []store.ProcessedKey
}

func (f *fakeProcessed) MarkProcessed(ctx context.Context, key store.ProcessedKey, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, key)
	return nil
}

func (f *fakeProcessed) ExistingIDs(ctx context.Context, site, objectType string, ids []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeProcessed) Get(ctx context.Context, key store.ProcessedKey) (*store.ProcessedRecord, error) {
	return nil, nil
}

func (f *fakeProcessed) markedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

type fakeLeads struct{}

func (fakeLeads) FindUnassignedByAddresses(ctx context.Context, site string, addresses []string) (map[string]crm.Contact, error) {
	return map[string]crm.Contact{}, nil
}

// fakeProc scripts the processor's answers.
type fakeProc struct {
	status      string
	results     []json.RawMessage
	persistedID string
	submitErr   error

	mu       sync.Mutex
	lastItem *processor.WorkItem
}

func (f *fakeProc) Submit(ctx context.Context, item *processor.WorkItem) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.mu.Lock()
	f.lastItem = item
	f.mu.Unlock()
	return "wi-1", nil
}

func (f *fakeProc) GetByID(ctx context.Context, id string) (*processor.WorkItem, error) {
	return &processor.WorkItem{ID: id, Status: f.status, Results: f.results}, nil
}

func (f *fakeProc) ResolvePersistedID(ctx context.Context, internalID string) (string, bool) {
	return f.persistedID, f.persistedID != ""
}

func (f *fakeProc) ListRecent(ctx context.Context, task, submitter, status string, limit int) ([]processor.WorkItemRef, error) {
	return nil, nil
}

func inbound(from, subject string) *envelope.Envelope {
	return &envelope.Envelope{
		To:         "sales@acme.com",
		From:       from,
		Subject:    subject,
		Date:       "Mon, 02 Jun 2025 10:00:00 +0000",
		Body:       "Hello, I'd like a quote.",
		ProviderID: "prov-" + from,
	}
}

type harness struct {
	svc       *Service
	cfg       *config.Config
	mail      *fakeMailbox
	processed *fakeProcessed
	proc      *fakeProc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Mailbox.FetchLimit = 10
	cfg.Processor.AgentID = "agent-1"
	cfg.Processor.Poll = config.PollConfig{Interval: "1ms", MaxAttempts: 5}
	cfg.Sites["acme"] = config.SiteConfig{Address: "sales@acme.com"}

	mail := &fakeMailbox{}
	processed := &fakeProcessed{}
	proc := &fakeProc{status: processor.StatusCompleted}
	pipe := pipeline.New(processed, fakeLeads{})
	disp := dispatch.NewDispatcher(proc)
	poller := dispatch.NewPoller(proc, cfg.Processor.Poll.ToPollConfig())

	return &harness{
		svc:       NewService(cfg, mail, pipe, disp, poller, processed),
		cfg:       cfg,
		mail:      mail,
		processed: processed,
		proc:      proc,
	}
}

func TestRun_SiteNotConfigured(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Run(context.Background(), Request{SiteID: "unknown"})
	if !errors.Is(err, ErrSiteNotConfigured) {
		t.Fatalf("err = %v, want ErrSiteNotConfigured", err)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Run(context.Background(), Request{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.fetchErr = errors.New("imap: connection refused")
	_, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}

func TestRun_ZeroSurvivorsIsSuccessWithReason(t *testing.T) {
	h := newHarness(t)
	// Everything fetched is self-sent, so filtering removes it all.
	h.mail.messages = []*envelope.Envelope{inbound("sales@acme.com", "Re: quote")}

	resp, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Reason == "" {
		t.Error("zero-survivor run must carry a reason")
	}
	if resp.WorkItemID != "" {
		t.Error("nothing should have been dispatched")
	}
	if h.processed.markedCount() != 0 {
		t.Error("no survivors, nothing to record")
	}
}

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.mail.messages = []*envelope.Envelope{
		inbound("buyer@example.com", "Need a quote"),
		inbound("other@example.com", "Question"),
	}
	h.proc.results = []json.RawMessage{json.RawMessage(`{"summary":"wants a quote"}`)}
	h.proc.persistedID = "lead-9"

	resp, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.WorkItemID != "wi-1" || resp.PersistedID != "lead-9" {
		t.Errorf("ids: %+v", resp)
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %d, want 1", len(resp.Results))
	}
	if resp.Partial || resp.Detached {
		t.Errorf("flags: %+v", resp)
	}
	if resp.Summary.FinalCount != 2 {
		t.Errorf("final count = %d", resp.Summary.FinalCount)
	}
	if got := h.processed.markedCount(); got != 2 {
		t.Errorf("marked %d records, want 2", got)
	}
	for _, key := range h.processed.marked {
		if key.Site != "acme" || key.ObjectType != pipeline.ObjectTypeEmail {
			t.Errorf("bad key scope: %+v", key)
		}
	}
}

func TestRun_DegradedSuccess(t *testing.T) {
	h := newHarness(t)
	h.mail.messages = []*envelope.Envelope{inbound("buyer@example.com", "Need a quote")}
	h.proc.status = processor.StatusFailed
	h.proc.results = []json.RawMessage{json.RawMessage(`{"summary":"partial"}`)}

	resp, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Partial || resp.Warning == "" {
		t.Errorf("expected partial with warning: %+v", resp)
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %d", len(resp.Results))
	}
	if h.processed.markedCount() != 1 {
		t.Error("degraded success still records survivors")
	}
}

func TestRun_ExecutionFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.messages = []*envelope.Envelope{inbound("buyer@example.com", "Need a quote")}
	h.proc.status = processor.StatusFailed // no results

	_, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if !errors.Is(err, ErrCommandExecution) {
		t.Fatalf("err = %v, want ErrCommandExecution", err)
	}
	if h.processed.markedCount() != 0 {
		t.Error("failed runs must not mark messages processed")
	}
}

func TestRun_DetachedMode(t *testing.T) {
	h := newHarness(t)
	h.cfg.Processor.DispatchMode = "detached"
	h.mail.messages = []*envelope.Envelope{inbound("buyer@example.com", "Need a quote")}
	h.proc.results = []json.RawMessage{json.RawMessage(`{"summary":"x"}`)}

	resp, err := h.svc.Run(context.Background(), Request{SiteID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Detached || resp.WorkItemID != "wi-1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Results) != 0 {
		t.Error("detached responses carry no results")
	}

	// The background goroutine records survivors once polling finishes.
	deadline := time.After(2 * time.Second)
	for h.processed.markedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("detached run never recorded survivors")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRun_DeleteAfterProcessing(t *testing.T) {
	h := newHarness(t)
	h.cfg.Mailbox.DeleteAfterProcessing = true
	h.mail.messages = []*envelope.Envelope{inbound("buyer@example.com", "Need a quote")}
	h.proc.results = []json.RawMessage{json.RawMessage(`{"summary":"x"}`)}

	if _, err := h.svc.Run(context.Background(), Request{SiteID: "acme"}); err != nil {
		t.Fatal(err)
	}
	h.mail.mu.Lock()
	defer h.mail.mu.Unlock()
	if len(h.mail.deleted) != 1 {
		t.Errorf("deleted %d messages, want 1", len(h.mail.deleted))
	}
}

// Runs overlap config hot reloads in production; every config read on the
// run path must go through the mutex-guarded snapshot accessors. Run with
// the race detector enabled.
func TestRun_ConcurrentConfigReload(t *testing.T) {
	h := newHarness(t)
	h.cfg.Mailbox.DeleteAfterProcessing = true
	h.mail.messages = []*envelope.Envelope{inbound("buyer@example.com", "Need a quote")}
	h.proc.results = []json.RawMessage{json.RawMessage(`{"summary":"x"}`)}

	src := config.Default()
	src.Mailbox.FetchLimit = 25
	src.Mailbox.DeleteAfterProcessing = true
	src.Processor.AgentID = "agent-2"
	src.Processor.Poll = config.PollConfig{Interval: "1ms", MaxAttempts: 5}
	src.Sites["acme"] = config.SiteConfig{Address: "sales@acme.com"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.cfg.ReplaceFrom(src)
		}
	}()

	for i := 0; i < 20; i++ {
		if _, err := h.svc.Run(context.Background(), Request{SiteID: "acme"}); err != nil {
			t.Fatal(err)
		}
	}
	<-done
}

func TestRequest_TolerantDecoding(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Request
	}{
		{
			name: "camelCase",
			body: `{"siteId":"acme","limit":5,"sinceDate":"2025-06-01","agentId":"a1","leadId":"l1"}`,
			want: Request{SiteID: "acme", Limit: 5, AgentID: "a1", LeadID: "l1"},
		},
		{
			name: "snake_case",
			body: `{"site_id":"acme","since_date":"2025-06-01T10:00:00Z","team_member_id":"tm1","analysis_type":"lead","user_id":"u1"}`,
			want: Request{SiteID: "acme", TeamMemberID: "tm1", AnalysisType: "lead", UserID: "u1"},
		},
		{
			name: "bare",
			body: `{"site":"acme","since":"2025-06-01"}`,
			want: Request{SiteID: "acme"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Request
			if err := json.Unmarshal([]byte(tc.body), &got); err != nil {
				t.Fatal(err)
			}
			if got.SiteID != tc.want.SiteID || got.Limit != tc.want.Limit ||
				got.AgentID != tc.want.AgentID || got.LeadID != tc.want.LeadID ||
				got.TeamMemberID != tc.want.TeamMemberID ||
				got.AnalysisType != tc.want.AnalysisType || got.UserID != tc.want.UserID {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
			if got.SinceDate.IsZero() {
				t.Error("sinceDate not parsed")
			}
		})
	}
}

func TestRequest_BadSinceDate(t *testing.T) {
	var r Request
	err := json.Unmarshal([]byte(`{"siteId":"acme","sinceDate":"notadate"}`), &r)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

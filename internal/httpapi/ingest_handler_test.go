package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/inboxrelay/internal/ingest"
	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
)

type fakeRunner struct {
	resp *ingest.Response
	err  error
	last ingest.Request
}

func (f *fakeRunner) Run(ctx context.Context, req ingest.Request) (*ingest.Response, error) {
	f.last = req
	return f.resp, f.err
}

func newTestServer(runner Runner, token string, rpm int) *httptest.Server {
	h := NewIngestHandler(runner, token, rpm)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postIngest(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/v1/ingest", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestIngest_Success(t *testing.T) {
	runner := &fakeRunner{resp: &ingest.Response{
		RunID:   "r1",
		Site:    "acme",
		Summary: pipeline.Summary{OriginalCount: 3, FinalCount: 1},
	}}
	srv := newTestServer(runner, "tok", 0)
	defer srv.Close()

	resp := postIngest(t, srv.URL, "tok", `{"siteId":"acme","limit":5}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out ingest.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.RunID != "r1" || out.Summary.FinalCount != 1 {
		t.Errorf("body = %+v", out)
	}
	if runner.last.SiteID != "acme" || runner.last.Limit != 5 {
		t.Errorf("request not forwarded: %+v", runner.last)
	}
}

func TestIngest_AuthRequired(t *testing.T) {
	srv := newTestServer(&fakeRunner{resp: &ingest.Response{}}, "tok", 0)
	defer srv.Close()

	resp := postIngest(t, srv.URL, "", `{"siteId":"acme"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", resp.StatusCode)
	}

	resp = postIngest(t, srv.URL, "wrong", `{"siteId":"acme"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", resp.StatusCode)
	}
}

func TestIngest_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: acme", ingest.ErrSiteNotConfigured), http.StatusNotFound},
		{fmt.Errorf("%w: siteId is required", ingest.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: imap down", ingest.ErrFetchFailed), http.StatusBadGateway},
		{fmt.Errorf("%w: no terminal state", ingest.ErrCommandExecution), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		srv := newTestServer(&fakeRunner{err: tc.err}, "", 0)
		resp := postIngest(t, srv.URL, "", `{"siteId":"acme"}`)
		resp.Body.Close()
		srv.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestIngest_BadJSON(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, "", 0)
	defer srv.Close()

	resp := postIngest(t, srv.URL, "", `{not json`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestIngest_PerSiteRateLimit(t *testing.T) {
	runner := &fakeRunner{resp: &ingest.Response{}}
	srv := newTestServer(runner, "", 2) // burst of 2 per site
	defer srv.Close()

	statuses := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		resp := postIngest(t, srv.URL, "", `{"siteId":"acme"}`)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("burst should pass: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("third call should be limited: %v", statuses)
	}

	// A different site has its own bucket.
	resp := postIngest(t, srv.URL, "", `{"siteId":"other"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other site limited too early: %d", resp.StatusCode)
	}
}

func TestHealthz_NoAuth(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, "tok", 0)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

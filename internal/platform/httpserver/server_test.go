package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	distributionbatch "scholarshipboard/contexts/scholarship-fund/distribution-batch-service"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	boardhttp "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"

	"github.com/shopspring/decimal"
)

func newTestServer(opts ...Option) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	module := distributionbatch.NewInMemoryModule([]entities.StudentCredit{
		{StudentID: "stu-a", DisplayName: "Ada", Credits: 100, ScholarshipUSD: decimal.Zero},
		{StudentID: "stu-b", DisplayName: "Ben", Credits: 200, ScholarshipUSD: decimal.Zero},
		{StudentID: "stu-c", DisplayName: "Cy", Credits: 0, ScholarshipUSD: decimal.Zero},
	}, logger)
	module.Store.SetMemberToken("token-admin", entities.Member{MemberID: "m-admin", DisplayName: "Admin", Email: "admin@example.org", IsAdmin: true})
	module.Store.SetMemberToken("token-b", entities.Member{MemberID: "m-b", DisplayName: "Bea"})
	module.Store.SetMemberToken("token-c", entities.Member{MemberID: "m-c", DisplayName: "Cal"})
	return New(module, logger, ":0", opts...)
}

func doRequest(server *Server, method string, path string, token string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	return rr
}

func createTestBatch(t *testing.T, server *Server) boardhttp.CreateBatchResponse {
	t.Helper()
	rr := doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches", "token-admin", `{"total_fund_usd":"300","notes":"spring"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp boardhttp.CreateBatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestHealthzDoesNotRequireAuthorization(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestBoardRoutesRequireBearerToken(t *testing.T) {
	server := newTestServer()
	paths := []string{
		apiPrefix + "/scholarship/students/pending",
		apiPrefix + "/scholarship/batch/current",
		apiPrefix + "/scholarship/history",
		apiPrefix + "/members",
	}
	for _, path := range paths {
		rr := doRequest(server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, rr.Code)
		}
		rr = doRequest(server, http.MethodGet, path, "not-a-token", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for unknown token on %s, got %d", path, rr.Code)
		}
	}
}

func TestPendingPreviewSplitsFundByCredits(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodGet, apiPrefix+"/scholarship/students/pending?total_fund_usd=300", "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp boardhttp.PendingPreviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if !resp.Eligible || resp.StudentCount != 2 || resp.TotalCredits != 300 {
		t.Fatalf("unexpected preview: %+v", resp)
	}
	amounts := map[string]string{}
	for _, allocation := range resp.Allocations {
		amounts[allocation.StudentID] = allocation.USDAmount
	}
	if amounts["stu-a"] != "100.00" || amounts["stu-b"] != "200.00" {
		t.Fatalf("unexpected amounts: %+v", amounts)
	}
}

func TestPendingPreviewRejectsInvalidFund(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodGet, apiPrefix+"/scholarship/students/pending?total_fund_usd=abc", "token-b", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateBatchRejectsSecondPendingBatch(t *testing.T) {
	server := newTestServer()
	createTestBatch(t, server)

	rr := doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches", "token-b", `{"total_fund_usd":"50"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateBatchRejectsMalformedBody(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches", "token-admin", `{"total_fund_usd":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestApproveTwiceReturnsConflict(t *testing.T) {
	server := newTestServer()
	created := createTestBatch(t, server)
	path := apiPrefix + "/scholarship/batches/" + itoa(created.Batch.BatchID) + "/approve"

	rr := doRequest(server, http.MethodPost, path, "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doRequest(server, http.MethodPost, path, "token-b", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestApproveUnknownBatchReturnsNotFound(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches/999/approve", "token-b", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches/abc/approve", "token-b", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExecuteRequiresAdminAndQuorum(t *testing.T) {
	server := newTestServer()
	created := createTestBatch(t, server)
	executePath := apiPrefix + "/scholarship/batches/" + itoa(created.Batch.BatchID) + "/execute"

	rr := doRequest(server, http.MethodPost, executePath, "token-b", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doRequest(server, http.MethodPost, executePath, "token-admin", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before quorum, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBatchLifecycleThroughReport(t *testing.T) {
	server := newTestServer()
	created := createTestBatch(t, server)
	batchID := itoa(created.Batch.BatchID)

	rr := doRequest(server, http.MethodPut, apiPrefix+"/scholarship/batches/"+batchID+"/comments", "token-b", `{"comment":"looks right","include_in_pdf":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 saving comment, got %d body=%s", rr.Code, rr.Body.String())
	}

	for _, token := range []string{"token-admin", "token-b", "token-c"} {
		rr := doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches/"+batchID+"/approve", token, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 approving as %s, got %d body=%s", token, rr.Code, rr.Body.String())
		}
	}

	rr = doRequest(server, http.MethodGet, apiPrefix+"/scholarship/batches/"+batchID+"/report", "token-b", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for report before execution, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches/"+batchID+"/execute", "token-admin", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 executing, got %d body=%s", rr.Code, rr.Body.String())
	}
	var executed boardhttp.ExecuteBatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &executed); err != nil {
		t.Fatalf("decode execute: %v", err)
	}
	if executed.StudentsProcessed != 2 || executed.TotalUSDDistributed != "300.00" {
		t.Fatalf("unexpected execution result: %+v", executed)
	}

	rr = doRequest(server, http.MethodPost, apiPrefix+"/scholarship/batches/"+batchID+"/execute", "token-admin", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second execute, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, http.MethodGet, apiPrefix+"/scholarship/history", "token-c", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for history, got %d", rr.Code)
	}
	var history boardhttp.HistoryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.Total != 1 || len(history.Items) != 1 || history.Items[0].Status != "distributed" {
		t.Fatalf("unexpected history: %+v", history)
	}

	rr = doRequest(server, http.MethodGet, apiPrefix+"/scholarship/batches/"+batchID+"/report", "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for report, got %d body=%s", rr.Code, rr.Body.String())
	}
	var report boardhttp.ReportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.StudentCount != 2 || len(report.Approvals) != 3 || len(report.Comments) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	var raw struct {
		Batch struct {
			CreatedBy map[string]string `json:"created_by"`
		} `json:"batch"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode report creator: %v", err)
	}
	creator := raw.Batch.CreatedBy
	if creator["id"] != "m-admin" || creator["name"] != "Admin" || creator["email"] != "admin@example.org" {
		t.Fatalf("expected nested created_by with id, name and email, got %v", creator)
	}

	rr = doRequest(server, http.MethodGet, apiPrefix+"/scholarship/students/recipients", "token-c", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for recipients, got %d body=%s", rr.Code, rr.Body.String())
	}
	var recipients boardhttp.RecipientsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &recipients); err != nil {
		t.Fatalf("decode recipients: %v", err)
	}
	if recipients.TotalDistributedUSD != "300.00" || len(recipients.Recipients) != 2 {
		t.Fatalf("unexpected recipients: %+v", recipients)
	}
	top := recipients.Recipients[0]
	if top.StudentID != "stu-b" || top.TotalDistributedUSD != "200.00" || top.ScholarshipUSD != "200.00" ||
		top.DistributionCount != 1 || top.LastDistributedAt == "" {
		t.Fatalf("unexpected top recipient: %+v", top)
	}
}

func TestRecipientsEmptyBeforeAnyDistribution(t *testing.T) {
	server := newTestServer()
	createTestBatch(t, server)
	rr := doRequest(server, http.MethodGet, apiPrefix+"/scholarship/students/recipients", "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var recipients boardhttp.RecipientsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &recipients); err != nil {
		t.Fatalf("decode recipients: %v", err)
	}
	if len(recipients.Recipients) != 0 || recipients.TotalDistributedUSD != "0.00" {
		t.Fatalf("expected no recipients, got %+v", recipients)
	}
}

func TestPollReturnsStateHash(t *testing.T) {
	server := newTestServer()
	created := createTestBatch(t, server)
	path := apiPrefix + "/realtime/poll?batch_id=" + itoa(created.Batch.BatchID) + "&timeout=0"

	rr := doRequest(server, http.MethodGet, path, "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var first boardhttp.PollResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if !first.Updated || first.StateHash == "" || first.Batch == nil {
		t.Fatalf("expected updated poll with hash, got %+v", first)
	}

	rr = doRequest(server, http.MethodGet, path+"&last_hash="+first.StateHash, "token-b", "")
	var second boardhttp.PollResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if second.Updated || second.StateHash != first.StateHash {
		t.Fatalf("expected unchanged poll, got %+v", second)
	}
}

func currentHash(t *testing.T, server *Server, batchID int64) string {
	t.Helper()
	rr := doRequest(server, http.MethodGet, apiPrefix+"/realtime/poll?timeout=0&batch_id="+itoa(batchID), "token-b", "")
	var resp boardhttp.PollResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if resp.StateHash == "" {
		t.Fatalf("expected state hash, got %s", rr.Body.String())
	}
	return resp.StateHash
}

func TestPollWithoutTimeoutWaitsForConfiguredDefault(t *testing.T) {
	server := newTestServer(WithPollWait(200 * time.Millisecond))
	created := createTestBatch(t, server)
	hash := currentHash(t, server, created.Batch.BatchID)
	base := apiPrefix + "/realtime/poll?batch_id=" + itoa(created.Batch.BatchID) + "&last_hash=" + hash

	started := time.Now()
	rr := doRequest(server, http.MethodGet, base, "token-b", "")
	held := time.Since(started)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp boardhttp.PollResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if resp.Updated || resp.StateHash != hash {
		t.Fatalf("expected unchanged poll, got %+v", resp)
	}
	if held < 150*time.Millisecond {
		t.Fatalf("expected request held for the default wait, returned after %s", held)
	}

	started = time.Now()
	rr = doRequest(server, http.MethodGet, base+"&timeout=0", "token-b", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if elapsed := time.Since(started); elapsed >= 150*time.Millisecond {
		t.Fatalf("expected timeout=0 to answer at once, took %s", elapsed)
	}
}

func TestNewDefaultsPollWaitToMaximum(t *testing.T) {
	server := newTestServer()
	if server.pollWait != 30*time.Second {
		t.Fatalf("expected 30s default poll wait, got %s", server.pollWait)
	}
	server = newTestServer(WithPollWait(0))
	if server.pollWait != 30*time.Second {
		t.Fatalf("expected non-positive wait to keep the default, got %s", server.pollWait)
	}
}

func TestPollCancelledReturnsServiceUnavailable(t *testing.T) {
	server := newTestServer()
	created := createTestBatch(t, server)
	hash := currentHash(t, server, created.Batch.BatchID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet,
		apiPrefix+"/realtime/poll?batch_id="+itoa(created.Batch.BatchID)+"&last_hash="+hash, nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer token-b")
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rr.Code, rr.Body.String())
	}
	var body boardhttp.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "poll_cancelled" {
		t.Fatalf("expected poll_cancelled, got %q", body.Code)
	}
}

func TestResolveClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	trusting := newTestServer(WithTrustedProxies([]string{"10.0.0.0/8", "not-an-ip", "2001:db8::1"}))
	plain := newTestServer()

	cases := []struct {
		name      string
		server    *Server
		remote    string
		forwarded string
		want      string
	}{
		{"untrusted peer ignores header", trusting, "203.0.113.9:4000", "1.2.3.4", "203.0.113.9"},
		{"no proxies configured", plain, "10.0.0.5:4000", "1.2.3.4", "10.0.0.5"},
		{"trusted peer uses forwarded hop", trusting, "10.0.0.5:4000", "198.51.100.7", "198.51.100.7"},
		{"skips trusted hops from the right", trusting, "10.0.0.5:4000", "spoofed, 198.51.100.7, 10.1.2.3", "198.51.100.7"},
		{"trusted peer without header", trusting, "10.0.0.5:4000", "", "10.0.0.5"},
		{"ipv6 proxy", trusting, "[2001:db8::1]:4000", "198.51.100.8", "198.51.100.8"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := tc.server.resolveClientIP(req); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestPollRejectsMissingBatchID(t *testing.T) {
	server := newTestServer()
	rr := doRequest(server, http.MethodGet, apiPrefix+"/realtime/poll", "token-b", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":  true,
		"bearer abc":  true,
		"Bearer ":     false,
		"Basic abc":   false,
		"":            false,
		"Bearerabc":   false,
		"Bearer  abc": true,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		_, ok := bearerToken(req)
		if ok != want {
			t.Fatalf("header %q: expected %v, got %v", header, want, ok)
		}
	}
}

func itoa(value int64) string {
	return strconv.FormatInt(value, 10)
}

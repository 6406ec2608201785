package pollclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	httptransport "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"

	"github.com/stretchr/testify/require"
)

type scriptedServer struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	requests  []*http.Request
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(context.Background()))
	var next func(w http.ResponseWriter)
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()
	if next == nil {
		writeJSON(w, http.StatusOK, httptransport.PollResponse{Updated: false, StateHash: "idle"})
		return
	}
	next(w)
}

func (s *scriptedServer) seen() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respond(status int, payload any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { writeJSON(w, status, payload) }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(baseURL string) Client {
	return Client{
		BaseURL:      baseURL,
		Token:        "token-1",
		Wait:         -1,
		RepollDelay:  time.Millisecond,
		ErrorBackoff: time.Millisecond,
		Logger:       quietLogger(),
	}
}

func TestWatchFollowsHashesUntilDistributed(t *testing.T) {
	script := &scriptedServer{responses: []func(w http.ResponseWriter){
		respond(http.StatusOK, httptransport.PollResponse{
			Updated:   true,
			StateHash: "h1",
			Batch:     &httptransport.BatchSummaryResponse{BatchID: 7, Status: "pending", ApprovalCount: 1},
		}),
		respond(http.StatusOK, httptransport.PollResponse{Updated: false, StateHash: "h1"}),
		respond(http.StatusInternalServerError, httptransport.ErrorResponse{Code: "internal_error", Message: "boom"}),
		respond(http.StatusOK, httptransport.PollResponse{
			Updated:   true,
			StateHash: "h2",
			Batch:     &httptransport.BatchSummaryResponse{BatchID: 7, Status: "distributed", ApprovalCount: 3},
		}),
	}}
	server := httptest.NewServer(script)
	defer server.Close()

	var updates []httptransport.PollResponse
	err := newClient(server.URL).Watch(context.Background(), 7, func(resp httptransport.PollResponse) {
		updates = append(updates, resp)
	})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, "h1", updates[0].StateHash)
	require.Equal(t, "distributed", updates[1].Batch.Status)

	requests := script.seen()
	require.Len(t, requests, 4)
	require.Equal(t, "", requests[0].URL.Query().Get("last_hash"))
	require.Equal(t, "h1", requests[1].URL.Query().Get("last_hash"))
	require.Equal(t, "h1", requests[3].URL.Query().Get("last_hash"))
	require.Equal(t, "7", requests[0].URL.Query().Get("batch_id"))
	require.Equal(t, "0", requests[0].URL.Query().Get("timeout"))
	require.Equal(t, "Bearer token-1", requests[0].Header.Get("Authorization"))
	require.Equal(t, "/realtime/poll", requests[0].URL.Path)
}

func TestWatchStopsOnRejectedRequest(t *testing.T) {
	script := &scriptedServer{responses: []func(w http.ResponseWriter){
		respond(http.StatusUnauthorized, httptransport.ErrorResponse{Code: "unauthorized", Message: "bad token"}),
	}}
	server := httptest.NewServer(script)
	defer server.Close()

	err := newClient(server.URL).Watch(context.Background(), 7, nil)
	require.ErrorIs(t, err, ErrRejected)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Equal(t, "unauthorized", statusErr.Code)
	require.Len(t, script.seen(), 1)
}

func TestWatchReturnsWhenContextCancelled(t *testing.T) {
	server := httptest.NewServer(&scriptedServer{})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := newClient(server.URL).Watch(ctx, 7, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollOnceSendsWaitInSeconds(t *testing.T) {
	script := &scriptedServer{}
	server := httptest.NewServer(script)
	defer server.Close()

	client := newClient(server.URL + "/")
	client.Wait = 2500 * time.Millisecond
	resp, err := client.PollOnce(context.Background(), 3, "abc")
	require.NoError(t, err)
	require.False(t, resp.Updated)

	requests := script.seen()
	require.Len(t, requests, 1)
	require.Equal(t, "2", requests[0].URL.Query().Get("timeout"))
	require.Equal(t, "abc", requests[0].URL.Query().Get("last_hash"))
}

func TestCurrentBatchDecodesView(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scholarship/batch/current" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, httptransport.CurrentBatchResponse{
			HasPendingBatch: true,
			Batch:           &httptransport.BatchSummaryResponse{BatchID: 11, Status: "pending"},
		})
	}))
	defer server.Close()

	view, err := newClient(server.URL).CurrentBatch(context.Background())
	require.NoError(t, err)
	require.True(t, view.HasPendingBatch)
	require.Equal(t, int64(11), view.Batch.BatchID)
}

func TestStatusErrorRetryableForServerFailures(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusBadGateway}
	require.NotErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "502")
}

package pollclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	httptransport "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"
)

const (
	DefaultWait         = 30 * time.Second
	DefaultRepollDelay  = 100 * time.Millisecond
	DefaultErrorBackoff = 5 * time.Second

	requestSlack = 5 * time.Second
)

// ErrRejected marks responses that retrying cannot fix, such as a bad token
// or an unknown batch.
var ErrRejected = errors.New("poll request rejected")

// StatusError carries a non-2xx response from the board API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("board api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("board api returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return ErrRejected
	default:
		return nil
	}
}

// Client follows one batch through the long-poll endpoint.
type Client struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	Wait         time.Duration
	RepollDelay  time.Duration
	ErrorBackoff time.Duration
	Logger       *slog.Logger
}

// CurrentBatch fetches the pending batch view, or the preview when nothing is
// pending.
func (c Client) CurrentBatch(ctx context.Context) (httptransport.CurrentBatchResponse, error) {
	var out httptransport.CurrentBatchResponse
	err := c.getJSON(ctx, "/scholarship/batch/current", nil, &out)
	return out, err
}

// PollOnce issues a single poll. The request deadline is the server-side wait
// plus a few seconds so a held request is never cut short by the client.
func (c Client) PollOnce(ctx context.Context, batchID int64, lastHash string) (httptransport.PollResponse, error) {
	wait := c.wait()
	requestCtx, cancel := context.WithTimeout(ctx, wait+requestSlack)
	defer cancel()

	query := url.Values{}
	query.Set("batch_id", strconv.FormatInt(batchID, 10))
	query.Set("last_hash", lastHash)
	query.Set("timeout", strconv.Itoa(int(wait/time.Second)))

	var out httptransport.PollResponse
	err := c.getJSON(requestCtx, "/realtime/poll", query, &out)
	return out, err
}

// Watch polls until the batch is distributed, ctx is cancelled, or the server
// rejects the request. onUpdate runs for every changed state, including the
// first one. Unchanged responses repoll after a short delay and transport
// failures back off before retrying.
func (c Client) Watch(ctx context.Context, batchID int64, onUpdate func(httptransport.PollResponse)) error {
	logger := c.logger()
	lastHash := ""
	for {
		resp, err := c.PollOnce(ctx, batchID, lastHash)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrRejected) {
				return err
			}
			logger.Warn("board poll failed",
				"event", "board_poll_failed",
				"module", "scholarship-fund/distribution-batch-service",
				"layer", "client",
				"batch_id", batchID,
				"error", err.Error(),
			)
			if !sleep(ctx, c.errorBackoff()) {
				return ctx.Err()
			}
			continue
		}

		if resp.Updated {
			lastHash = resp.StateHash
			if onUpdate != nil {
				onUpdate(resp)
			}
			if resp.Batch != nil && resp.Batch.Status == string(entities.BatchStatusDistributed) {
				logger.Info("batch distributed, stopping poll",
					"event", "board_poll_distributed",
					"module", "scholarship-fund/distribution-batch-service",
					"layer", "client",
					"batch_id", batchID,
				)
				return nil
			}
		}
		if !sleep(ctx, c.repollDelay()) {
			return ctx.Err()
		}
	}
}

func (c Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var body httptransport.ErrorResponse
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil {
			if json.Unmarshal(raw, &body) == nil {
				statusErr.Code = body.Code
				statusErr.Message = body.Message
			}
		}
		return statusErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Client) wait() time.Duration {
	if c.Wait < 0 {
		return 0
	}
	if c.Wait == 0 {
		return DefaultWait
	}
	return c.Wait.Truncate(time.Second)
}

func (c Client) repollDelay() time.Duration {
	if c.RepollDelay <= 0 {
		return DefaultRepollDelay
	}
	return c.RepollDelay
}

func (c Client) errorBackoff() time.Duration {
	if c.ErrorBackoff <= 0 {
		return DefaultErrorBackoff
	}
	return c.ErrorBackoff
}

func (c Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

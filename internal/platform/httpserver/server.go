package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	distributionbatch "scholarshipboard/contexts/scholarship-fund/distribution-batch-service"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	boarderrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/queries"
	boardhttp "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"

	"github.com/shopspring/decimal"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "scholarshipboard/internal/platform/httpserver/docs"
)

const apiPrefix = "/api/board/v1"

type Server struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	addr           string
	board          distributionbatch.Module
	pollWait       time.Duration
	trustedProxies []netip.Prefix
}

type Option func(*Server)

// WithPollWait sets how long a poll without a timeout parameter is held.
func WithPollWait(wait time.Duration) Option {
	return func(s *Server) {
		if wait > 0 {
			s.pollWait = wait
		}
	}
}

// WithTrustedProxies lists the peers allowed to set X-Forwarded-For. Entries
// are addresses or CIDR prefixes; unparsable entries are logged and skipped.
func WithTrustedProxies(entries []string) Option {
	return func(s *Server) {
		for _, entry := range entries {
			prefix, err := parseProxyPrefix(entry)
			if err != nil {
				s.logger.Warn("ignoring trusted proxy entry",
					"event", "http_trusted_proxy_invalid",
					"module", "internal/platform/httpserver",
					"layer", "platform",
					"entry", entry,
				)
				continue
			}
			s.trustedProxies = append(s.trustedProxies, prefix)
		}
	}
}

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, member entities.Member)

func New(board distributionbatch.Module, logger *slog.Logger, addr string, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		board:    board,
		pollWait: queries.DefaultPollMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then drains in-flight requests. Write
// timeouts are left unset because poll requests are held open on purpose.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server stopping",
			"event", "http_server_stopping",
			"module", "internal/platform/httpserver",
			"layer", "platform",
		)
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/students/pending", s.authenticated(s.handlePendingPreview))
	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/students/recipients", s.authenticated(s.handleRecipients))
	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/batch/current", s.authenticated(s.handleCurrentBatch))
	s.mux.HandleFunc("POST "+apiPrefix+"/scholarship/batches", s.authenticated(s.handleCreateBatch))
	s.mux.HandleFunc("POST "+apiPrefix+"/scholarship/batches/{batch_id}/approve", s.authenticated(s.handleApproveBatch))
	s.mux.HandleFunc("POST "+apiPrefix+"/scholarship/batches/{batch_id}/execute", s.authenticated(s.handleExecuteBatch))
	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/history", s.authenticated(s.handleHistory))
	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/batches/{batch_id}/report", s.authenticated(s.handleReport))
	s.mux.HandleFunc("GET "+apiPrefix+"/scholarship/batches/{batch_id}/comments", s.authenticated(s.handleListComments))
	s.mux.HandleFunc("PUT "+apiPrefix+"/scholarship/batches/{batch_id}/comments", s.authenticated(s.handleSaveComment))
	s.mux.HandleFunc("GET "+apiPrefix+"/members", s.authenticated(s.handleMembers))
	s.mux.HandleFunc("GET "+apiPrefix+"/realtime/poll", s.authenticated(s.handlePoll))
}

func (s *Server) authenticated(next authenticatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeBoardError(w, http.StatusUnauthorized, "unauthorized", "Authorization bearer token is required")
			return
		}
		member, err := s.board.Handler.AuthenticateHandler(r.Context(), token)
		if err != nil {
			if !errors.Is(err, boarderrors.ErrUnauthenticated) {
				s.logger.Error("member authentication failed",
					"event", "http_authenticate_failed",
					"module", "internal/platform/httpserver",
					"layer", "platform",
					"error", err.Error(),
				)
			}
			s.writeBoardDomainError(w, err)
			return
		}
		next(w, r, member)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePendingPreview(w http.ResponseWriter, r *http.Request, _ entities.Member) {
	fund := decimal.Zero
	if raw := strings.TrimSpace(r.URL.Query().Get("total_fund_usd")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			writeBoardError(w, http.StatusBadRequest, "invalid_fund", "total_fund_usd must be a non-negative amount")
			return
		}
		fund = parsed
	}
	resp, err := s.board.Handler.PendingPreviewHandler(r.Context(), fund)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurrentBatch(w http.ResponseWriter, r *http.Request, member entities.Member) {
	var batchID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("batch_id")); raw != "" {
		parsed, ok := parseBatchID(raw)
		if !ok {
			writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
			return
		}
		batchID = parsed
	}
	resp, err := s.board.Handler.CurrentBatchHandler(r.Context(), member, batchID)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request, member entities.Member) {
	var req boardhttp.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBoardError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.board.Handler.CreateBatchHandler(r.Context(), member, req)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleApproveBatch(w http.ResponseWriter, r *http.Request, member entities.Member) {
	batchID, ok := parseBatchID(r.PathValue("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	resp, err := s.board.Handler.ApproveBatchHandler(r.Context(), member, batchID, s.resolveClientIP(r))
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request, member entities.Member) {
	batchID, ok := parseBatchID(r.PathValue("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	resp, err := s.board.Handler.ExecuteBatchHandler(r.Context(), member, batchID)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ entities.Member) {
	query := r.URL.Query()
	limit, offset := 0, 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeBoardError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeBoardError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}
		offset = parsed
	}
	resp, err := s.board.Handler.HistoryHandler(r.Context(), limit, offset)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, _ entities.Member) {
	batchID, ok := parseBatchID(r.PathValue("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	resp, err := s.board.Handler.ReportHandler(r.Context(), batchID)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request, member entities.Member) {
	batchID, ok := parseBatchID(r.PathValue("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	resp, err := s.board.Handler.ListCommentsHandler(r.Context(), member, batchID)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveComment(w http.ResponseWriter, r *http.Request, member entities.Member) {
	batchID, ok := parseBatchID(r.PathValue("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	var req boardhttp.SaveCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBoardError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.board.Handler.SaveCommentHandler(r.Context(), member, batchID, req)
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request, _ entities.Member) {
	resp, err := s.board.Handler.RecipientsHandler(r.Context())
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, _ entities.Member) {
	resp, err := s.board.Handler.MembersHandler(r.Context())
	if err != nil {
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request, member entities.Member) {
	query := r.URL.Query()
	batchID, ok := parseBatchID(query.Get("batch_id"))
	if !ok {
		writeBoardError(w, http.StatusBadRequest, "invalid_batch_id", "batch_id must be a positive integer")
		return
	}
	wait := s.pollWait
	if raw := strings.TrimSpace(query.Get("timeout")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			writeBoardError(w, http.StatusBadRequest, "invalid_timeout", "timeout must be a non-negative number of seconds")
			return
		}
		wait = time.Duration(seconds) * time.Second
	}
	resp, err := s.board.Handler.PollHandler(r.Context(), member, batchID, query.Get("last_hash"), wait)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Either the client left or the server is shutting down. The
			// status only reaches a client that is still connected.
			writeBoardError(w, http.StatusServiceUnavailable, "poll_cancelled", "poll was cancelled, retry")
			return
		}
		s.writeBoardDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeBoardDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, boarderrors.ErrInvalidInput):
		writeBoardError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, boarderrors.ErrUnauthenticated):
		writeBoardError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, boarderrors.ErrForbidden):
		writeBoardError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, boarderrors.ErrBatchNotFound):
		writeBoardError(w, http.StatusNotFound, "batch_not_found", err.Error())
	case errors.Is(err, boarderrors.ErrPendingBatchExists):
		writeBoardError(w, http.StatusConflict, "pending_batch_exists", err.Error())
	case errors.Is(err, boarderrors.ErrNoEligibleRecipients):
		writeBoardError(w, http.StatusUnprocessableEntity, "no_eligible_recipients", err.Error())
	case errors.Is(err, boarderrors.ErrNotPending):
		writeBoardError(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, boarderrors.ErrAlreadyApproved):
		writeBoardError(w, http.StatusConflict, "already_approved", err.Error())
	case errors.Is(err, boarderrors.ErrAlreadyDistributed):
		writeBoardError(w, http.StatusConflict, "already_distributed", err.Error())
	case errors.Is(err, boarderrors.ErrNotReady):
		writeBoardError(w, http.StatusConflict, "not_ready", err.Error())
	case errors.Is(err, boarderrors.ErrReportUnavailable):
		writeBoardError(w, http.StatusConflict, "report_unavailable", err.Error())
	case errors.Is(err, boarderrors.ErrStudentBalanceChanged):
		writeBoardError(w, http.StatusConflict, "student_balance_changed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeBoardError(w, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
	default:
		s.logger.Error("unhandled board error",
			"event", "http_unhandled_error",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeBoardError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeBoardError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, boardhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func parseBatchID(raw string) (int64, bool) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// resolveClientIP returns the peer address unless the peer is a trusted
// proxy. Then X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins.
func (s *Server) resolveClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !s.isTrustedProxy(peer) {
		return peer
	}
	forwarded := r.Header.Values("X-Forwarded-For")
	hops := make([]string, 0, len(forwarded))
	for _, header := range forwarded {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !s.isTrustedProxy(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}

func (s *Server) isTrustedProxy(raw string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseProxyPrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

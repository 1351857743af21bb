package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"deedescrow/core"
	"deedescrow/crypto"
	"deedescrow/observability"
	"deedescrow/storage/audit"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig configures the JSON-RPC server.
type ServerConfig struct {
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Logger      *slog.Logger
	ServiceName string
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type method struct {
	module string
	auth   bool
	handle methodHandler
}

// Server exposes the node over JSON-RPC, a websocket event feed, and
// Prometheus metrics.
type Server struct {
	node    *core.Node
	audit   *audit.Store
	auth    *Authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
	service string
	methods map[string]method
}

// NewServer builds a server for node. store may be nil when the audit log is
// disabled.
func NewServer(node *core.Node, store *audit.Store, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	service := cfg.ServiceName
	if service == "" {
		service = "escrowd"
	}
	limiter, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		node:    node,
		audit:   store,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("deedescrow/rpc"),
		service: service,
	}
	s.methods = map[string]method{
		"escrow_list":             {module: "escrow", auth: true, handle: s.handleEscrowList},
		"escrow_depositEarnest":   {module: "escrow", auth: true, handle: s.handleEscrowDepositEarnest},
		"escrow_lend":             {module: "escrow", auth: true, handle: s.handleEscrowLend},
		"escrow_updateInspection": {module: "escrow", auth: true, handle: s.handleEscrowUpdateInspection},
		"escrow_approveSale":      {module: "escrow", auth: true, handle: s.handleEscrowApproveSale},
		"escrow_finalizeSale":     {module: "escrow", auth: true, handle: s.handleEscrowFinalizeSale},
		"escrow_cancelSale":       {module: "escrow", auth: true, handle: s.handleEscrowCancelSale},
		"escrow_getSale":          {module: "escrow", handle: s.handleEscrowGetSale},
		"escrow_getApproval":      {module: "escrow", handle: s.handleEscrowGetApproval},
		"escrow_getBalance":       {module: "escrow", handle: s.handleEscrowGetBalance},
		"escrow_roles":            {module: "escrow", handle: s.handleEscrowRoles},
		"escrow_getSettlement":    {module: "escrow", handle: s.handleEscrowGetSettlement},
		"escrow_listings":         {module: "escrow", handle: s.handleEscrowListings},
		"escrow_events":           {module: "escrow", handle: s.handleEscrowEvents},
		"registry_mint":           {module: "registry", auth: true, handle: s.handleRegistryMint},
		"registry_approve":        {module: "registry", auth: true, handle: s.handleRegistryApprove},
		"registry_setOperator":    {module: "registry", auth: true, handle: s.handleRegistrySetOperator},
		"registry_transfer":       {module: "registry", auth: true, handle: s.handleRegistryTransfer},
		"registry_ownerOf":        {module: "registry", handle: s.handleRegistryOwnerOf},
		"registry_assets":         {module: "registry", handle: s.handleRegistryAssets},
		"bank_balance":            {module: "bank", handle: s.handleBankBalance},
		"bank_transfer":           {module: "bank", auth: true, handle: s.handleBankTransfer},
		"audit_events":            {module: "audit", handle: s.handleAuditEvents},
		"audit_settlements":       {module: "audit", handle: s.handleAuditSettlements},
	}
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	r.Post("/rpc", s.handle)
	return otelhttp.NewHandler(r, s.service)
}

// Serve runs the server on addr until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

type callerKey struct{}

func withCaller(ctx context.Context, caller crypto.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func callerFrom(r *http.Request) crypto.Address {
	caller, _ := r.Context().Value(callerKey{}).(crypto.Address)
	return caller
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("rpc.module", m.module),
	))
	defer span.End()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		observability.ModuleMetrics().Observe(m.module, req.Method, recorder.status, time.Since(start))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}
	}()

	source := s.limiter.clientSource(r)
	if m.auth {
		caller, authErr := s.auth.Identity(r)
		if authErr != nil {
			// Failed token checks are charged to the client address.
			if !s.limiter.allow(source) {
				observability.ModuleMetrics().RecordThrottle(m.module, "rate_limit")
				writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
				return
			}
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		ctx = withCaller(ctx, caller)
		source = caller.String()
		span.SetAttributes(attribute.String("rpc.caller", source))
	}
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(m.module, "rate_limit")
		writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	m.handle(recorder, r.WithContext(ctx), req)
}

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// API versioning and pagination defaults
const (
	APIVersion        = "1.0"
	defaultPageLimit  = 50
	maxPageLimit      = 1000
	maxBatchSize      = 1000
	serverReadTimeout = 15 * time.Second
)

// PaginationParams holds parsed limit and offset query parameters
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePaginationParams reads limit and offset from the query string.
// Missing, invalid or non-positive values fall back to the defaults and
// the limit is capped at maxLimit.
func ParsePaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	params := PaginationParams{Limit: defaultLimit, Offset: 0}

	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		params.Limit = v
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		params.Offset = v
	}
	return params
}

// paginate slices items for the requested page
func paginate[T any](items []T, p PaginationParams) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

func paginatedData(data interface{}, p PaginationParams, total int) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"pagination": map[string]interface{}{
			"limit":  p.Limit,
			"offset": p.Offset,
			"total":  total,
		},
	}
}

// WriteSuccess writes a successful JSON envelope
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", APIVersion)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// WriteError writes a failed JSON envelope with a machine-readable code
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", APIVersion)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeValidationError maps pipeline errors to HTTP responses
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNodeNotRunning):
		WriteError(w, http.StatusServiceUnavailable, "NODE_NOT_RUNNING", err.Error())
	case errors.Is(err, ErrInvalidTransactionStructure):
		WriteError(w, http.StatusBadRequest, "INVALID_TRANSACTION", err.Error())
	case errors.Is(err, ErrEmptyBatch):
		WriteError(w, http.StatusBadRequest, "EMPTY_BATCH", err.Error())
	default:
		logger.Error("Validation request failed", "requestId", GetRequestID(r.Context()), "error", err)
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// registerAPIRoutes registers every API route on router
func (n *ValidationNode) registerAPIRoutes(router *mux.Router) {
	router.HandleFunc("/health", n.HealthCheckHandler).Methods("GET")
	router.HandleFunc("/stats", n.GetStatsHandler).Methods("GET")

	router.HandleFunc("/transactions", n.SubmitTransactionHandler).Methods("POST")
	router.HandleFunc("/transactions/validate", n.ValidateTransactionHandler).Methods("POST")
	router.HandleFunc("/batches", n.ProcessBatchHandler).Methods("POST")
	router.HandleFunc("/batches", n.GetBatchesHandler).Methods("GET")

	router.HandleFunc("/proofs", n.GetProofsHandler).Methods("GET")
	router.HandleFunc("/archive", n.GetArchiveHandler).Methods("GET")
	router.HandleFunc("/archive/{hash}", n.GetAnalysisHandler).Methods("GET")

	router.HandleFunc("/witnesses", n.AddWitnessHandler).Methods("POST")
	router.HandleFunc("/witnesses", n.GetWitnessesHandler).Methods("GET")

	router.HandleFunc("/events", n.DrainEventsHandler).Methods("GET")
}

// NewRouter builds the full router with its middleware chain
func (n *ValidationNode) NewRouter(cfg *Config) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(RateLimitMiddleware(NewIPRateLimiter(cfg.RateLimitPerMinute)))
	router.Use(BodySizeLimitMiddleware(cfg.MaxBodySizeBytes))
	router.Use(MetricsMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1Router := router.PathPrefix("/api/v1").Subrouter()
	v1Router.Use(NodeAuthMiddleware(cfg.NodeAuthSecret, cfg.RequireNodeAuth))
	n.registerAPIRoutes(v1Router)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(NodeAuthMiddleware(cfg.NodeAuthSecret, cfg.RequireNodeAuth))
	n.registerAPIRoutes(apiRouter)

	return router
}

// StartServer serves the API until ctx is cancelled, then shuts down gracefully
func (n *ValidationNode) StartServer(ctx context.Context, cfg *Config) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(n.NewRouter(cfg), "proofnode"),
		ReadHeaderTimeout: serverReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting validation node server", "port", cfg.Port, "nodeId", n.NodeID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// HealthCheckHandler handles health check requests
func (n *ValidationNode) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"node_id": n.NodeID,
		"running": n.IsRunning(),
		"uptime":  int64(n.now().Sub(n.startedAt).Seconds()),
		"version": "1.0.0",
	})
}

// GetStatsHandler returns the node statistics snapshot
func (n *ValidationNode) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, n.Stats())
}

// SubmitTransactionHandler enqueues a transaction for the next tick
func (n *ValidationNode) SubmitTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var tx Transaction
	if err := DecodeJSONBody(w, r, &tx); err != nil {
		return
	}

	txHash, err := n.SubmitTransaction(tx)
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
		"txHash":     txHash,
		"queueDepth": n.QueueLength(),
		"message":    "Transaction queued for validation",
	})
}

// ValidateTransactionHandler validates a transaction synchronously
func (n *ValidationNode) ValidateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var tx Transaction
	if err := DecodeJSONBody(w, r, &tx); err != nil {
		return
	}
	if tx.Timestamp == 0 {
		tx.Timestamp = n.now().UnixMilli()
	}

	result, err := n.ValidateTransaction(r.Context(), &tx)
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	confirmation := n.GetCompactConfirmation(result)
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"offchain":     result.Offchain,
		"onchain":      result.Onchain,
		"size":         result.Size,
		"confirmation": confirmation.Hex(),
	})
}

type batchRequest struct {
	Transactions []Transaction `json:"transactions"`
}

// ProcessBatchHandler validates and aggregates a batch synchronously
func (n *ValidationNode) ProcessBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if len(req.Transactions) > maxBatchSize {
		WriteError(w, http.StatusBadRequest, "BATCH_TOO_LARGE", "Batch exceeds "+strconv.Itoa(maxBatchSize)+" transactions")
		return
	}

	now := n.now().UnixMilli()
	for i := range req.Transactions {
		if req.Transactions[i].Timestamp == 0 {
			req.Transactions[i].Timestamp = now
		}
	}

	result, err := n.ProcessBatch(r.Context(), req.Transactions)
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, result)
}

// GetBatchesHandler returns stored batches, oldest first
func (n *ValidationNode) GetBatchesHandler(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r, defaultPageLimit, maxPageLimit)
	batches := n.Batches()
	WriteSuccess(w, http.StatusOK, paginatedData(paginate(batches, params), params, len(batches)))
}

type proofView struct {
	Wire  string       `json:"wire"`
	Proof CompactProof `json:"proof"`
}

// GetProofsHandler returns the on-chain store, oldest first, each proof
// with its hex wire form
func (n *ValidationNode) GetProofsHandler(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r, defaultPageLimit, maxPageLimit)
	proofs := n.OnchainProofs()
	page := paginate(proofs, params)

	views := make([]proofView, len(page))
	for i := range page {
		views[i] = proofView{
			Wire:  hex.EncodeToString(page[i].AppendBinary(nil)),
			Proof: page[i],
		}
	}
	WriteSuccess(w, http.StatusOK, paginatedData(views, params, len(proofs)))
}

// GetArchiveHandler returns archived analyses, newest first
func (n *ValidationNode) GetArchiveHandler(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r, defaultPageLimit, maxPageLimit)
	analyses := n.archive.Recent(params.Offset, params.Limit)
	WriteSuccess(w, http.StatusOK, paginatedData(analyses, params, n.archive.Len()))
}

// GetAnalysisHandler returns the archived analysis for one transaction hash
func (n *ValidationNode) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["hash"]
	if !ValidateStringField(txHash, MaxHashLength) {
		WriteError(w, http.StatusBadRequest, "INVALID_HASH", "Invalid transaction hash")
		return
	}

	analysis, ok := n.GetAnalysis(txHash)
	if !ok {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "No analysis archived for this transaction")
		return
	}
	WriteSuccess(w, http.StatusOK, analysis)
}

// AddWitnessHandler registers a witness
func (n *ValidationNode) AddWitnessHandler(w http.ResponseWriter, r *http.Request) {
	var witness Witness
	if err := DecodeJSONBody(w, r, &witness); err != nil {
		return
	}

	if err := n.AddWitness(witness.Address, witness.Stake, witness.Reputation); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_WITNESS", err.Error())
		return
	}

	WriteSuccess(w, http.StatusCreated, map[string]interface{}{
		"address":  witness.Address,
		"poolSize": len(n.Witnesses()),
	})
}

// GetWitnessesHandler lists the witness pool
func (n *ValidationNode) GetWitnessesHandler(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r, defaultPageLimit, maxPageLimit)
	witnesses := n.Witnesses()
	WriteSuccess(w, http.StatusOK, paginatedData(paginate(witnesses, params), params, len(witnesses)))
}

// DrainEventsHandler returns and clears the buffered events
func (n *ValidationNode) DrainEventsHandler(w http.ResponseWriter, r *http.Request) {
	events := n.DrainEvents()
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"events":  events,
		"dropped": n.events.Dropped(),
	})
}

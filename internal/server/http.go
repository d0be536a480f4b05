// Package server exposes the settlement core over HTTP. Handlers translate
// the typed fault taxonomy to status codes; all business rules live below.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"BloomLedger/internal/bridge"
	"BloomLedger/internal/fault"
	"BloomLedger/internal/guard"
	"BloomLedger/internal/ledger"
	"BloomLedger/internal/observability"
	"BloomLedger/internal/opsctl"
	"BloomLedger/internal/redemption"
	"BloomLedger/internal/reserve"
)

// Server wires the HTTP API over the settlement core.
type Server struct {
	ledger     *ledger.SupplyLedger
	composer   *reserve.Composer
	guard      *guard.MintGuard
	redemption *redemption.Engine
	bridge     *bridge.Manager
	controls   *opsctl.Controls
	health     *observability.HealthChecker

	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(
	l *ledger.SupplyLedger,
	c *reserve.Composer,
	g *guard.MintGuard,
	r *redemption.Engine,
	b *bridge.Manager,
	controls *opsctl.Controls,
	health *observability.HealthChecker,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		ledger:     l,
		composer:   c,
		guard:      g,
		redemption: r,
		bridge:     b,
		controls:   controls,
		health:     health,
		log:        log,
		metrics:    metrics,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/supply", s.instrument("supply", s.handleSupply)).Methods(http.MethodGet)
	v1.HandleFunc("/reserve", s.instrument("reserve", s.handleReserve)).Methods(http.MethodGet)
	v1.HandleFunc("/collateralization", s.instrument("collateralization", s.handleCollateralization)).Methods(http.MethodGet)

	v1.HandleFunc("/mints", s.instrument("mint", s.handleMint)).Methods(http.MethodPost)

	v1.HandleFunc("/redemptions", s.instrument("redemption_create", s.handleCreateRedemption)).Methods(http.MethodPost)
	v1.HandleFunc("/redemptions", s.instrument("redemption_list", s.handleListRedemptions)).Methods(http.MethodGet)
	v1.HandleFunc("/redemptions/{id}", s.instrument("redemption_get", s.handleGetRedemption)).Methods(http.MethodGet)
	v1.HandleFunc("/redemptions/{id}/complete", s.instrument("redemption_complete", s.handleCompleteRedemption)).Methods(http.MethodPost)
	v1.HandleFunc("/redemptions/{id}/refund", s.instrument("redemption_refund", s.handleRefundRedemption)).Methods(http.MethodPost)

	v1.HandleFunc("/bridge/lock-mint", s.instrument("bridge_lock_mint", s.handleLockAndMint)).Methods(http.MethodPost)
	v1.HandleFunc("/bridge/burn-unlock", s.instrument("bridge_burn_unlock", s.handleBurnAndUnlock)).Methods(http.MethodPost)
	v1.HandleFunc("/bridge/transfer", s.instrument("bridge_transfer", s.handleCrossChainTransfer)).Methods(http.MethodPost)
	v1.HandleFunc("/bridge/transactions", s.instrument("bridge_list", s.handleListBridge)).Methods(http.MethodGet)
	v1.HandleFunc("/bridge/transactions/{id}", s.instrument("bridge_get", s.handleGetBridge)).Methods(http.MethodGet)
	v1.HandleFunc("/bridge/fees", s.instrument("bridge_fees", s.handleBridgeFees)).Methods(http.MethodGet)
	v1.HandleFunc("/bridge/stats", s.instrument("bridge_stats", s.handleBridgeStats)).Methods(http.MethodGet)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/pause/{op}", s.instrument("admin_pause", s.handlePause)).Methods(http.MethodPost)
	admin.HandleFunc("/resume/{op}", s.instrument("admin_resume", s.handleResume)).Methods(http.MethodPost)
	admin.HandleFunc("/slow-mode", s.instrument("admin_slow_mode", s.handleSlowMode)).Methods(http.MethodPost)
	admin.HandleFunc("/controls", s.instrument("admin_controls", s.handleControls)).Methods(http.MethodGet)

	return r
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// --- read endpoints ---

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"current_supply": s.ledger.CurrentSupply(),
		"total_minted":   s.ledger.TotalMinted(),
		"total_burned":   s.ledger.TotalBurned(),
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	reading, err := s.composer.Read(r.Context())
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locked_sats": reading.LockedSats,
		"source":      reading.Source,
		"as_of":       reading.AsOf,
	})
}

func (s *Server) handleCollateralization(w http.ResponseWriter, r *http.Request) {
	ratio, err := s.guard.CollateralizationRatio(r.Context())
	if err != nil {
		s.writeFault(w, err)
		return
	}
	fully, err := s.guard.IsFullyReserved(r.Context())
	if err != nil {
		s.writeFault(w, err)
		return
	}
	maxRedeem, err := s.guard.MaxRedeemableBloom(r.Context())
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ratio":                jsonRatio(ratio),
		"fully_reserved":       fully,
		"max_redeemable_bloom": maxRedeem,
		"under_reserved_alarm": s.guard.UnderReserved(),
	})
}

// --- mint ---

type mintRequest struct {
	AmountBloom int64 `json:"amount_bloom"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.guard.Mint(r.Context(), req.AmountBloom); err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{
		"minted_bloom":   req.AmountBloom,
		"current_supply": s.ledger.CurrentSupply(),
	})
}

// --- redemptions ---

type redeemRequest struct {
	RecipientBTCAddress string `json:"recipient_btc_address"`
	AmountBloom         int64  `json:"amount_bloom"`
}

func (s *Server) handleCreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := s.redemption.RequestRedeemBloom(r.Context(), req.RecipientBTCAddress, req.AmountBloom)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.redemption.ListIntents())
}

func (s *Server) handleGetRedemption(w http.ResponseWriter, r *http.Request) {
	in, err := s.redemption.GetIntent(mux.Vars(r)["id"])
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleCompleteRedemption(w http.ResponseWriter, r *http.Request) {
	in, err := s.redemption.CompleteRedemption(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		var integrity *fault.LedgerIntegrity
		if errors.As(err, &integrity) && in != nil {
			// The claim settled; report the intent with the anomaly.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"intent":          in,
				"integrity_error": integrity.Error(),
			})
			return
		}
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleRefundRedemption(w http.ResponseWriter, r *http.Request) {
	in, err := s.redemption.RefundRedemption(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// --- bridge ---

type bridgeRequest struct {
	RequestID   string `json:"request_id"`
	AmountBloom int64  `json:"amount_bloom"`
	RawTxHex    string `json:"raw_tx_hex"`
}

func (s *Server) handleLockAndMint(w http.ResponseWriter, r *http.Request) {
	s.handleBridgeOp(w, r, s.bridge.LockAndMint)
}

func (s *Server) handleBurnAndUnlock(w http.ResponseWriter, r *http.Request) {
	s.handleBridgeOp(w, r, s.bridge.BurnAndUnlock)
}

func (s *Server) handleCrossChainTransfer(w http.ResponseWriter, r *http.Request) {
	s.handleBridgeOp(w, r, s.bridge.CrossChainTransfer)
}

func (s *Server) handleBridgeOp(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, requestID string, amountBloom int64, rawTx []byte) (*bridge.Transaction, error),
) {
	var req bridgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := op(r.Context(), req.RequestID, req.AmountBloom, []byte(req.RawTxHex))
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tx)
}

func (s *Server) handleListBridge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.GetAllTransactions())
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	tx, err := s.bridge.GetTransaction(mux.Vars(r)["id"])
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleBridgeFees(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount_bloom"), 10, 64)
	if err != nil {
		http.Error(w, "invalid amount_bloom", http.StatusBadRequest)
		return
	}
	est, err := s.bridge.EstimateBridgeFees(r.Context(), amount)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleBridgeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Stats())
}

// --- admin ---

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	op := opsctl.Operation(mux.Vars(r)["op"])
	s.controls.Pause(op)
	s.log.Warn().Str("op", string(op)).Msg("operation paused by admin")
	writeJSON(w, http.StatusOK, s.controls.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	op := opsctl.Operation(mux.Vars(r)["op"])
	s.controls.Resume(op)
	s.log.Info().Str("op", string(op)).Msg("operation resumed by admin")
	writeJSON(w, http.StatusOK, s.controls.Snapshot())
}

type slowModeRequest struct {
	Enabled    bool  `json:"enabled"`
	IntervalMS int64 `json:"interval_ms,omitempty"`
}

func (s *Server) handleSlowMode(w http.ResponseWriter, r *http.Request) {
	var req slowModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IntervalMS > 0 {
		s.controls.SetSlowInterval(time.Duration(req.IntervalMS) * time.Millisecond)
	}
	s.controls.SetSlowMode(req.Enabled)
	writeJSON(w, http.StatusOK, s.controls.Snapshot())
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controls.Snapshot())
}

// --- helpers ---

// writeFault maps the typed error taxonomy to HTTP status codes.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		pegErr     *fault.PegViolation
		reserveErr *fault.InsufficientReserve
		trans      *fault.InvalidTransition
		stale      *fault.StaleReserveReading
		adapter    *fault.ExternalAdapterFailure
		integrity  *fault.LedgerIntegrity
	)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrInvalidAmount), errors.Is(err, fault.ErrInvalidAddress):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrOperationPaused):
		status = http.StatusServiceUnavailable
	case errors.As(err, &pegErr), errors.As(err, &reserveErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &trans):
		status = http.StatusConflict
	case errors.As(err, &stale):
		status = http.StatusServiceUnavailable
	case errors.As(err, &adapter):
		status = http.StatusBadGateway
	case errors.As(err, &integrity):
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRatio renders +Inf (empty system) as null, which JSON cannot encode.
func jsonRatio(r float64) interface{} {
	if r != r || r > 1e308 {
		return nil
	}
	return r
}

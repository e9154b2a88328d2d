package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"gaslane/core/types"
	"gaslane/gateway/middleware"
	"gaslane/native/paymaster"
	"gaslane/observability/metrics"
)

// Config assembles the server's collaborators.
type Config struct {
	Engine        *paymaster.Engine
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

// Server exposes sponsor funding and the two-phase sponsorship protocol over
// HTTP. Funding endpoints derive the caller identity from the bearer token;
// the validate/settle endpoints are for the trusted request pipeline.
type Server struct {
	engine  *paymaster.Engine
	logger  *slog.Logger
	metrics *metrics.PaymasterMetrics
}

// NewServer wires the HTTP surface around the engine.
func NewServer(cfg Config) (*Server, http.Handler, error) {
	if cfg.Engine == nil {
		return nil, nil, errors.New("gateway: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		logger:  logger,
		metrics: metrics.Paymaster(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware())
	}
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("gateway"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/sponsors/{sponsorID}", func(sr chi.Router) {
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware())
			}
			sr.Get("/", srv.handleSponsorGet)
			sr.Post("/deposit", srv.handleDeposit)
			sr.Post("/withdraw", srv.handleWithdraw)
		})
		v1.Route("/paymaster", func(pr chi.Router) {
			pr.Post("/validate", srv.handleValidate)
			pr.Post("/settle", srv.handleSettle)
			pr.Get("/authority", srv.handleAuthorityGet)
			if cfg.Authenticator != nil {
				pr.With(cfg.Authenticator.Middleware()).Post("/authority", srv.handleAuthorityRotate)
			} else {
				pr.Post("/authority", srv.handleAuthorityRotate)
			}
		})
	})

	return srv, r, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// ledgerStatus maps ledger errors onto HTTP statuses.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, paymaster.ErrNotSponsorOwner),
		errors.Is(err, paymaster.ErrNotPaymasterOwner):
		return http.StatusForbidden
	case errors.Is(err, paymaster.ErrSponsorNotFound):
		return http.StatusNotFound
	case errors.Is(err, paymaster.ErrZeroAmount),
		errors.Is(err, paymaster.ErrZeroAddress),
		errors.Is(err, paymaster.ErrInsufficientBalance),
		errors.Is(err, paymaster.ErrMalformedPayload),
		errors.Is(err, paymaster.ErrMalformedContext),
		errors.Is(err, paymaster.ErrInvalidSignatureLength),
		errors.Is(err, paymaster.ErrUnknownContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, paymaster.ErrContextConsumed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sponsorFromURL(r *http.Request) (paymaster.SponsorID, error) {
	return paymaster.SponsorIDFromHex(chi.URLParam(r, "sponsorID"))
}

func callerFromRequest(r *http.Request) (common.Address, bool) {
	if caller, ok := middleware.Caller(r.Context()); ok {
		return caller, true
	}
	// Auth disabled (development mode): accept the explicit header.
	raw := r.Header.Get("X-Caller-Address")
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), true
	}
	return common.Address{}, false
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type sponsorResponse struct {
	SponsorID string `json:"sponsorId"`
	Owner     string `json:"owner"`
	Balance   string `json:"balance"`
}

func (s *Server) handleSponsorGet(w http.ResponseWriter, r *http.Request) {
	id, err := sponsorFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sponsor id")
		return
	}
	acct, err := s.engine.Ledger().Account(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "sponsor not found")
		return
	}
	writeJSON(w, http.StatusOK, sponsorResponse{
		SponsorID: id.String(),
		Owner:     acct.Owner.Hex(),
		Balance:   acct.Balance.String(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleFunding(w, r, "deposit", s.engine.Ledger().Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleFunding(w, r, "withdraw", s.engine.Ledger().Withdraw)
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request, kind string, op func(paymaster.SponsorID, common.Address, *big.Int) error) {
	id, err := sponsorFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sponsor id")
		return
	}
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := op(id, caller, amount); err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}
	s.metrics.ObserveSponsorOp(kind)
	balance, err := s.engine.Ledger().Balance(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sponsorResponse{
		SponsorID: id.String(),
		Owner:     caller.Hex(),
		Balance:   balance.String(),
	})
}

type userOpRequest struct {
	Sender               string        `json:"sender"`
	Nonce                string        `json:"nonce"`
	InitCode             hexutil.Bytes `json:"initCode"`
	CallData             hexutil.Bytes `json:"callData"`
	CallGasLimit         uint64        `json:"callGasLimit"`
	VerificationGasLimit uint64        `json:"verificationGasLimit"`
	PreVerificationGas   uint64        `json:"preVerificationGas"`
	MaxFeePerGas         string        `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string        `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	Signature            hexutil.Bytes `json:"signature"`
}

func (u *userOpRequest) toUserOperation() (*types.UserOperation, error) {
	if !common.IsHexAddress(u.Sender) {
		return nil, errors.New("sender is not a valid address")
	}
	nonce, err := parseAmount(u.Nonce)
	if err != nil {
		return nil, errors.New("nonce must be a base-10 integer")
	}
	maxFee, err := parseAmount(u.MaxFeePerGas)
	if err != nil {
		return nil, errors.New("maxFeePerGas must be a base-10 integer")
	}
	maxPriority, err := parseAmount(u.MaxPriorityFeePerGas)
	if err != nil {
		return nil, errors.New("maxPriorityFeePerGas must be a base-10 integer")
	}
	return &types.UserOperation{
		Sender:               common.HexToAddress(u.Sender),
		Nonce:                nonce,
		InitCode:             u.InitCode,
		CallData:             u.CallData,
		CallGasLimit:         u.CallGasLimit,
		VerificationGasLimit: u.VerificationGasLimit,
		PreVerificationGas:   u.PreVerificationGas,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
		PaymasterAndData:     u.PaymasterAndData,
		Signature:            u.Signature,
	}, nil
}

type validateRequest struct {
	UserOp  userOpRequest `json:"userOp"`
	MaxCost string        `json:"maxCost"`
}

type validateResponse struct {
	Status         string        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	ValidationData string        `json:"validationData"`
	Context        hexutil.Bytes `json:"context,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op, err := req.UserOp.toUserOperation()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxCost, err := parseAmount(req.MaxCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "maxCost must be a base-10 integer")
		return
	}
	result, err := s.engine.ValidateSponsorship(op, maxCost)
	if err != nil {
		s.metrics.ObserveValidation("error", nil)
		writeError(w, ledgerStatus(err), err.Error())
		return
	}
	if result.SigFailed {
		s.metrics.ObserveValidation("rejected", nil)
		writeJSON(w, http.StatusOK, validateResponse{
			Status:         "rejected",
			Reason:         result.Reason,
			ValidationData: result.ValidationData.Hex(),
		})
		return
	}
	s.metrics.ObserveValidation("validated", maxCost)
	writeJSON(w, http.StatusOK, validateResponse{
		Status:         "validated",
		ValidationData: result.ValidationData.Hex(),
		Context:        result.Context,
	})
}

type settleRequest struct {
	Context    hexutil.Bytes `json:"context"`
	ActualCost string        `json:"actualCost"`
	Mode       string        `json:"mode"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := paymaster.ParsePostOpMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actualCost, err := parseAmount(req.ActualCost)
	if err != nil || actualCost.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "actualCost must be a non-negative base-10 integer")
		return
	}
	// The engine trusts its caller to keep the charge within the reservation;
	// enforce that contract here where the cost is client-supplied.
	ctx, err := paymaster.DecodeSettlementContext(req.Context)
	if err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}
	charged, refunded := settlementTotals(mode, ctx, actualCost)
	if refunded.Sign() < 0 {
		writeError(w, http.StatusUnprocessableEntity, "actualCost plus settlement overhead exceeds the reservation")
		return
	}
	if err := s.engine.PostOp(mode, req.Context, actualCost); err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}
	s.metrics.ObserveSettlement(mode.String(), charged, refunded)
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled", "mode": mode.String()})
}

// settlementTotals splits a settlement between the amount kept from the
// reservation and the amount returned to the sponsor. A reverted post-op
// charges nothing; otherwise the charge is the actual cost plus the fixed
// settlement overhead carried in the context.
func settlementTotals(mode paymaster.PostOpMode, ctx *paymaster.SettlementContext, actualCost *big.Int) (charged, refunded *big.Int) {
	if mode == paymaster.PostOpModePostOpReverted {
		return big.NewInt(0), new(big.Int).Set(ctx.Reserved)
	}
	charged = new(big.Int).Add(actualCost, ctx.PostOpCost)
	refunded = new(big.Int).Sub(ctx.Reserved, charged)
	return charged, refunded
}

type authorityResponse struct {
	Authority string `json:"authority"`
}

func (s *Server) handleAuthorityGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, authorityResponse{Authority: s.engine.Authority().Hex()})
}

type rotateRequest struct {
	Next string `json:"next"`
}

func (s *Server) handleAuthorityRotate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Next) {
		writeError(w, http.StatusBadRequest, "next is not a valid address")
		return
	}
	if err := s.engine.RotateAuthority(caller, common.HexToAddress(req.Next)); err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authorityResponse{Authority: s.engine.Authority().Hex()})
}

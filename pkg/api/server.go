package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/edaix/pkg/app/core/amm"
	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
	"github.com/uhyunpark/edaix/pkg/app/core/ledger"
	"github.com/uhyunpark/edaix/pkg/app/core/matching"
	"github.com/uhyunpark/edaix/pkg/app/core/session"
	"github.com/uhyunpark/edaix/pkg/app/core/transaction"
	"github.com/uhyunpark/edaix/pkg/app/exchange"
)

const (
	defaultDepth = 20
	defaultLimit = 50
	maxLimit     = 1000
	maxTxBytes   = 64 << 10
)

// Submitter admits signed transactions into the mempool
type Submitter interface {
	PushTx(raw []byte) (*transaction.SignedTransaction, error)
}

// History serves persisted records beyond the in-memory window
type History interface {
	LoadRecentTrades(instrument string, limit int) ([]matching.Trade, error)
	LoadSessions(instrument string) ([]session.TradingSession, error)
	LoadPositions(provider common.Address) ([]amm.Position, error)
}

// Chain reports block production progress
type Chain interface {
	Height() int64
	MempoolSize() int
	Err() error
}

type Config struct {
	Controller     *exchange.Controller
	Submitter      Submitter
	History        History // optional
	Chain          Chain   // optional
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	ctrl    *exchange.Controller
	submit  Submitter
	history History
	chain   Chain
	origins []string
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		ctrl:    cfg.Controller,
		submit:  cfg.Submitter,
		history: cfg.History,
		chain:   cfg.Chain,
		origins: cfg.AllowedOrigins,
		router:  mux.NewRouter(),
		hub:     NewHub(cfg.Logger),
		log:     cfg.Logger,
	}
	s.setupRoutes()
	return s
}

// Hub is the websocket market data sink
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Trading pairs
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{instrument}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/trades/history", s.handleGetTradeHistory).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/sessions", s.handleGetSessions).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/pool", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/pool/quote", s.handleQuoteSwap).Methods("GET")
	api.HandleFunc("/pairs/{instrument}/positions/{address}", s.handleGetPositions).Methods("GET")

	// Orders and accounts
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/positions", s.handleGetAccountPositions).Methods("GET")

	// Chain
	api.HandleFunc("/operators", s.handleGetOperators).Methods("GET")
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.ctrl.Pairs()
	out := make([]PairInfo, len(pairs))
	for i, tp := range pairs {
		out[i] = PairInfo{TradingPair: tp, Phase: string(s.ctrl.Phase(tp.Instrument))}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	tp, err := s.ctrl.GetTradingPair(instrument)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, PairInfo{TradingPair: tp, Phase: string(s.ctrl.Phase(instrument))})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	depth, ok := intParam(w, r, "depth", defaultDepth)
	if !ok {
		return
	}
	book, err := s.ctrl.GetOrderBook(mux.Vars(r)["instrument"], depth)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, OrderbookSnapshot{
		Instrument: book.Instrument,
		Bids:       toLevels(book.Bids),
		Asks:       toLevels(book.Asks),
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	respondJSON(w, tradeInfos(s.ctrl.RecentTrades(mux.Vars(r)["instrument"], limit)))
}

func (s *Server) handleGetTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "history unavailable", "", "")
		return
	}
	limit, ok := intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	trades, err := s.history.LoadRecentTrades(mux.Vars(r)["instrument"], limit)
	if err != nil {
		s.log.Errorw("history_read_failed", "kind", "trades", "err", err)
		respondError(w, http.StatusInternalServerError, "history read failed", "", err.Error())
		return
	}
	respondJSON(w, tradeInfos(trades))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	ts, err := s.ctrl.GetSession(instrument)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, SessionInfo{TradingSession: ts, Phase: string(s.ctrl.Phase(instrument))})
}

// handleGetSessions prefers the persisted history, which survives restarts
// of the in-memory session list.
func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	if s.history != nil {
		sessions, err := s.history.LoadSessions(instrument)
		if err != nil {
			s.log.Errorw("history_read_failed", "kind", "sessions", "err", err)
			respondError(w, http.StatusInternalServerError, "history read failed", "", err.Error())
			return
		}
		respondJSON(w, sessions)
		return
	}
	limit, ok := intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	respondJSON(w, s.ctrl.SessionHistory(instrument, limit))
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.GetPool(mux.Vars(r)["instrument"])
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, toPoolInfo(p))
}

func (s *Server) handleQuoteSwap(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	dir, ok := amm.ParseDirection(r.URL.Query().Get("direction"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid direction", apperr.KindValidation.String(), "use asset_to_quote or quote_to_asset")
		return
	}
	in, ok := intParam(w, r, "in", 0)
	if !ok {
		return
	}
	res, err := s.ctrl.QuoteSwap(instrument, dir, int64(in))
	if err != nil {
		respondAppError(w, err)
		return
	}
	var price decimal.Decimal
	if res.AssetLeg > 0 {
		price = decimal.NewFromInt(res.QuoteLeg).DivRound(decimal.NewFromInt(res.AssetLeg), 6)
	}
	respondJSON(w, SwapQuote{
		Instrument:     instrument,
		Direction:      dir.String(),
		In:             res.In,
		Out:            res.Out,
		EffectivePrice: price,
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.ctrl.Positions(addr, mux.Vars(r)["instrument"]))
}

// handleGetAccountPositions lists a provider's positions in every pool
func (s *Server) handleGetAccountPositions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "history unavailable", "", "")
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	positions, err := s.history.LoadPositions(addr)
	if err != nil {
		s.log.Errorw("history_read_failed", "kind", "positions", "err", err)
		respondError(w, http.StatusInternalServerError, "history read failed", "", err.Error())
		return
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", apperr.KindValidation.String(), err.Error())
		return
	}
	o, err := s.ctrl.GetOrder(id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	out := AccountInfo{Address: addr.Hex(), Balances: map[string]ledger.Balance{}}
	if acc, found := s.ctrl.Account(addr); found {
		out.Nonce = acc.Nonce
		for _, asset := range acc.Assets() {
			out.Balances[asset] = acc.Balances[asset]
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	orders := s.ctrl.OpenOrders(addr)
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOperators(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.ctrl.Operators())
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		respondError(w, http.StatusNotImplemented, "chain status unavailable", "", "")
		return
	}
	respondJSON(w, ChainStatus{
		Height:      s.chain.Height(),
		MempoolSize: s.chain.MempoolSize(),
		Healthy:     s.chain.Err() == nil,
	})
}

// handleSubmitTx accepts a signed transaction envelope. Signature and format
// are checked here; the action is checked when a block applies it.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", apperr.KindValidation.String(), err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", apperr.KindValidation.String(), "")
		return
	}
	tx, err := s.submit.PushTx(body)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			respondError(w, http.StatusServiceUnavailable, "mempool unavailable", "", err.Error())
			return
		}
		respondAppError(w, err)
		return
	}

	receipt := TxReceipt{
		Status:    "submitted",
		ReceiptID: uuid.NewString(),
		Action:    string(tx.Action),
		Owner:     tx.OwnerAddress().Hex(),
		Nonce:     tx.Nonce,
	}
	s.log.Infow("tx_submitted", "receipt", receipt.ReceiptID, "action", receipt.Action,
		"owner", receipt.Owner, "nonce", receipt.Nonce, "bytes", len(body))
	respondStatus(w, http.StatusAccepted, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.chain != nil {
		if err := s.chain.Err(); err != nil {
			respondError(w, http.StatusServiceUnavailable, "halted", "", err.Error())
			return
		}
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func tradeInfos(trades []matching.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = toTradeInfo(t)
	}
	return out
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", apperr.KindValidation.String(), s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// intParam reads a non-negative query parameter, capped at maxLimit for
// limit and depth.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name, apperr.KindValidation.String(), raw)
		return 0, false
	}
	if (name == "limit" || name == "depth") && v > maxLimit {
		v = maxLimit
	}
	return v, true
}

// statusOf maps error kinds to HTTP status codes
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindState:
		return http.StatusConflict
	case apperr.KindSlippage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondAppError(w http.ResponseWriter, err error) {
	k := apperr.KindOf(err)
	respondError(w, statusOf(k), http.StatusText(statusOf(k)), k.String(), err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error, kind, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Kind:    kind,
		Message: message,
	})
}

// Package rpc provides the JSON-RPC 2.0 server for the klingfolio daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Klingon-tech/klingfolio/internal/balances"
	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
	"github.com/Klingon-tech/klingfolio/internal/metrics"
	"github.com/Klingon-tech/klingfolio/internal/portfolio"
	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/quote"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

// Version of the daemon
const Version = "0.1.0-dev"

// PriceCache is the price capability the server exposes.
type PriceCache interface {
	GetPrices(ctx context.Context, ids []string) (map[string]prices.Entry, error)
	OnUpdate(fn func(map[string]prices.Entry))
	Len() int
}

// Config wires the server to its services.
type Config struct {
	Portfolio *portfolio.Service
	Prices    PriceCache
	Registry  *prices.Registry

	// Balances is optional; balances_get fails without it.
	Balances balances.Source

	Quotes        *quote.Simulator
	QuoteDebounce time.Duration

	// DeadlineMinutes is used by swap_deadline when minutes is omitted.
	DeadlineMinutes int

	Logger *logging.Logger
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	portfolio *portfolio.Service
	favorites *favorites.Store
	prices    PriceCache
	registry  *prices.Registry
	balances  balances.Source
	quotes    *quote.Simulator
	debounce  *quote.Group
	deadline  int
	log       *logging.Logger
	wsHub     *WSHub
	started   time.Time

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// errInvalidParams marks handler errors caused by the request itself.
var errInvalidParams = errors.New("invalid params")

// NewServer creates a new JSON-RPC server and subscribes its event hub to
// favorites and price updates.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Portfolio == nil {
		return nil, errors.New("rpc: portfolio service is required")
	}
	if cfg.Prices == nil {
		return nil, errors.New("rpc: price cache is required")
	}

	s := &Server{
		portfolio: cfg.Portfolio,
		favorites: cfg.Portfolio.Favorites(),
		prices:    cfg.Prices,
		registry:  cfg.Registry,
		balances:  cfg.Balances,
		quotes:    cfg.Quotes,
		deadline:  cfg.DeadlineMinutes,
		log:       cfg.Logger,
		wsHub:     NewWSHub(),
		started:   time.Now(),
		handlers:  make(map[string]Handler),
	}
	if s.registry == nil {
		s.registry = prices.DefaultRegistry()
	}
	if s.quotes == nil {
		s.quotes = quote.NewSimulator(&quote.Config{})
	}
	if s.log == nil {
		s.log = logging.GetDefault().Component("rpc")
	}
	if s.deadline <= 0 {
		s.deadline = 20
	}
	s.debounce = quote.NewGroup(s.quotes, cfg.QuoteDebounce)
	s.wsHub.onDisconnect = s.debounce.Forget

	s.registerHandlers()
	s.subscribeEvents()

	return s, nil
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_status"] = s.nodeStatus

	// Chain registry
	s.handlers["chains_list"] = s.chainsList
	s.handlers["tokens_list"] = s.tokensList

	// Favorites
	s.handlers["favorites_add"] = s.favoritesAdd
	s.handlers["favorites_remove"] = s.favoritesRemove
	s.handlers["favorites_update"] = s.favoritesUpdate
	s.handlers["favorites_isFavorite"] = s.favoritesIsFavorite
	s.handlers["favorites_list"] = s.favoritesList
	s.handlers["favorites_listByChain"] = s.favoritesListByChain
	s.handlers["favorites_clear"] = s.favoritesClear
	s.handlers["favorites_quickAdd"] = s.favoritesQuickAdd
	s.handlers["favorites_quickAddOptions"] = s.favoritesQuickAddOptions
	s.handlers["favorites_counts"] = s.favoritesCounts

	// Prices and balances
	s.handlers["prices_get"] = s.pricesGet
	s.handlers["balances_get"] = s.balancesGet

	// Valuation
	s.handlers["portfolio_valuate"] = s.portfolioValuate
	s.handlers["portfolio_total"] = s.portfolioTotal
	s.handlers["portfolio_assets"] = s.portfolioAssets

	// Simulated swap quotes
	s.handlers["swap_quote"] = s.swapQuote
	s.handlers["swap_pairs"] = s.swapPairs
	s.handlers["swap_minAmountOut"] = s.swapMinAmountOut
	s.handlers["swap_deadline"] = s.swapDeadline
	s.handlers["swap_checkBalance"] = s.swapCheckBalance
}

// subscribeEvents forwards store and cache changes to websocket clients.
func (s *Server) subscribeEvents() {
	s.favorites.OnChange(func(c favorites.Change) {
		switch c.Kind {
		case favorites.ChangeAdded:
			s.wsHub.Broadcast(EventFavoriteAdded, c.Token)
		case favorites.ChangeRemoved:
			s.wsHub.Broadcast(EventFavoriteRemoved, c.Token)
		case favorites.ChangeUpdated:
			s.wsHub.Broadcast(EventFavoriteUpdated, c.Token)
		case favorites.ChangeCleared:
			s.wsHub.Broadcast(EventFavoritesCleared, nil)
		}
	})
	s.prices.OnUpdate(func(updated map[string]prices.Entry) {
		s.wsHub.Broadcast(EventPricesUpdated, updated)
	})
}

// Handler returns the HTTP handler serving JSON-RPC, websocket and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues("unknown", "error").Inc()
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	start := time.Now()
	result, err := handler(r.Context(), req.Params)
	metrics.RPCRequestDurationSeconds.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, metrics.Result(err)).Inc()

	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == InternalError {
			s.log.Warn("RPC method failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	s.writeResult(w, req.ID, result)
}

// toRPCError maps a handler error to a JSON-RPC error object. Errors caused
// by the caller's input map to InvalidParams.
func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, favorites.ErrInvalidToken),
		errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, chain.ErrUnknownToken),
		errors.Is(err, chain.ErrUnsupportedChain):
		return &Error{Code: InvalidParams, Message: err.Error()}
	default:
		return &Error{Code: InternalError, Message: err.Error()}
	}
}

// parseParams decodes params into v. Missing params decode to v's zero
// value.
func parseParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400") // Cache preflight for 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

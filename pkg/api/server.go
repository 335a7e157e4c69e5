// Package api serves a read-only view of a running simulation over HTTP and
// streams its events over websockets.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/darwinex/pkg/arena"
	"github.com/uhyunpark/darwinex/pkg/pressure"
	"github.com/uhyunpark/darwinex/pkg/sim/market"
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
	"github.com/uhyunpark/darwinex/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// Sources are the components the server reads from. Reports may be nil.
type Sources struct {
	Market   *market.Market
	Arena    *arena.Arena
	Pressure *pressure.Controller
	Reports  func() any
}

type Options struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // /metrics is disabled when nil
	Logger         *zap.SugaredLogger
	Clock          util.Clock
	Hub            *Hub // shared with the simulation feed; created when nil
}

// Server handles REST requests and websocket connections.
type Server struct {
	src     Sources
	router  *mux.Router
	hub     *Hub
	origins []string
	clock   util.Clock
	log     *zap.SugaredLogger

	httpSrv *http.Server
}

func NewServer(src Sources, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	log := util.OrNop(opts.Logger)
	if opts.Hub == nil {
		opts.Hub = NewHub(log.Named("ws"), opts.Clock)
	}
	s := &Server{
		src:     src,
		router:  mux.NewRouter(),
		hub:     opts.Hub,
		origins: opts.AllowedOrigins,
		clock:   opts.Clock,
		log:     log,
	}
	s.setupRoutes(opts.Gatherer)
	return s
}

func (s *Server) setupRoutes(g prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/market/stats", s.handleMarketStats).Methods(http.MethodGet)
	api.HandleFunc("/market/orderbook", s.handleOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/market/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/market/agents", s.handleAgents).Methods(http.MethodGet)
	api.HandleFunc("/market/cost", s.handleCost).Methods(http.MethodGet)

	api.HandleFunc("/arena/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/arena/matches", s.handleMatches).Methods(http.MethodGet)
	api.HandleFunc("/arena/stats", s.handleArenaStats).Methods(http.MethodGet)
	api.HandleFunc("/arena/agents/{id}", s.handleAgentStats).Methods(http.MethodGet)

	api.HandleFunc("/pressure/current", s.handlePressureCurrent).Methods(http.MethodGet)
	api.HandleFunc("/pressure/history", s.handlePressureHistory).Methods(http.MethodGet)
	api.HandleFunc("/pressure/stats", s.handlePressureStats).Methods(http.MethodGet)

	api.HandleFunc("/generations", s.handleGenerations).Methods(http.MethodGet)

	if g != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Hub is the websocket fan-out. It doubles as a record sink for the
// simulation.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errc <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdown)
	}
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Market == nil {
		respondError(w, http.StatusServiceUnavailable, "market not attached", "")
		return
	}
	respondJSON(w, s.src.Market.Statistics())
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	if s.src.Market == nil {
		respondError(w, http.StatusServiceUnavailable, "market not attached", "")
		return
	}
	depth, err := intParam(r, "depth", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}

	book := s.src.Market.Book()
	snap := OrderbookSnapshot{
		Bids:      truncate(book.BidLevels(), depth),
		Asks:      truncate(book.AskLevels(), depth),
		Liquidity: book.Liquidity(),
		Timestamp: s.clock.Now().UnixMilli(),
	}
	if v, ok := book.BestBid(); ok {
		snap.BestBid = &v
	}
	if v, ok := book.BestAsk(); ok {
		snap.BestAsk = &v
	}
	if v, ok := book.Spread(); ok {
		snap.Spread = &v
	}
	respondJSON(w, snap)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.src.Market == nil {
		respondError(w, http.StatusServiceUnavailable, "market not attached", "")
		return
	}
	limit, err := intParam(r, "limit", defaultTradeLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "")
		return
	}
	trades := s.src.Market.Book().RecentTrades(min(limit, maxTradeLimit))
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.src.Market == nil {
		respondError(w, http.StatusServiceUnavailable, "market not attached", "")
		return
	}
	respondJSON(w, s.src.Market.Agents())
}

// handleCost prices a hypothetical order: ?amount=2&side=buy&price=100[&fee=0.001].
func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	if s.src.Market == nil {
		respondError(w, http.StatusServiceUnavailable, "market not attached", "")
		return
	}
	q := r.URL.Query()
	amount, err1 := strconv.ParseFloat(q.Get("amount"), 64)
	price, err2 := strconv.ParseFloat(q.Get("price"), 64)
	if err1 != nil || err2 != nil || !finitePositive(amount) || !finitePositive(price) {
		respondError(w, http.StatusBadRequest, "amount and price must be positive numbers", "")
		return
	}
	var side orderbook.Side
	switch q.Get("side") {
	case "buy":
		side = orderbook.Buy
	case "sell":
		side = orderbook.Sell
	default:
		respondError(w, http.StatusBadRequest, "side must be buy or sell", "")
		return
	}
	fee := -1.0
	if v := q.Get("fee"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			respondError(w, http.StatusBadRequest, "invalid fee", "")
			return
		}
		fee = f
	}
	respondJSON(w, s.src.Market.EstimateExecutionCost(amount, side, price, fee))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.src.Arena == nil {
		respondError(w, http.StatusServiceUnavailable, "arena not attached", "")
		return
	}
	by := arena.SortKey(r.URL.Query().Get("sort"))
	switch by {
	case "":
		by = arena.SortByRating
	case arena.SortByRating, arena.SortByWinRate, arena.SortByPnL, arena.SortByAvgScore, arena.SortByMatches:
	default:
		respondError(w, http.StatusBadRequest, "unknown sort key", string(by))
		return
	}
	respondJSON(w, s.src.Arena.Leaderboard(by))
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if s.src.Arena == nil {
		respondError(w, http.StatusServiceUnavailable, "arena not attached", "")
		return
	}
	recs := s.src.Arena.MatchHistory(r.URL.Query().Get("agent"))
	if recs == nil {
		recs = []arena.MatchRecord{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleArenaStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Arena == nil {
		respondError(w, http.StatusServiceUnavailable, "arena not attached", "")
		return
	}
	respondJSON(w, s.src.Arena.Statistics())
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Arena == nil {
		respondError(w, http.StatusServiceUnavailable, "arena not attached", "")
		return
	}
	respondJSON(w, s.src.Arena.Stats(mux.Vars(r)["id"]))
}

func (s *Server) handlePressureCurrent(w http.ResponseWriter, r *http.Request) {
	if s.src.Pressure == nil {
		respondError(w, http.StatusServiceUnavailable, "pressure controller not attached", "")
		return
	}
	respondJSON(w, s.src.Pressure.Current())
}

func (s *Server) handlePressureHistory(w http.ResponseWriter, r *http.Request) {
	if s.src.Pressure == nil {
		respondError(w, http.StatusServiceUnavailable, "pressure controller not attached", "")
		return
	}
	last, err := intParam(r, "last", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid last", err.Error())
		return
	}
	respondJSON(w, s.src.Pressure.History(last))
}

func (s *Server) handlePressureStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Pressure == nil {
		respondError(w, http.StatusServiceUnavailable, "pressure controller not attached", "")
		return
	}
	respondJSON(w, s.src.Pressure.Statistics())
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if s.src.Reports == nil {
		respondJSON(w, []any{})
		return
	}
	respondJSON(w, s.src.Reports())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Message: detail})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func finitePositive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

func truncate(levels []orderbook.PriceLevel, depth int) []orderbook.PriceLevel {
	if levels == nil {
		return []orderbook.PriceLevel{}
	}
	if depth > 0 && depth < len(levels) {
		return levels[:depth]
	}
	return levels
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eggfarm/tvl/internal/engine"
	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/observability"
	"github.com/eggfarm/tvl/internal/state"
	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// Valuations is the surface served over HTTP: reads plus operator price overrides.
type Valuations interface {
	Farms(d types.Deployment) ([]types.Farm, error)
	Pools() []types.Pool
	FarmByPID(d types.Deployment, pid types.PositionID) (types.Farm, error)
	FarmBySymbol(d types.Deployment, symbol string) (types.Farm, error)
	PoolBySousID(sousID types.PositionID) (types.Pool, error)
	FarmUser(d types.Deployment, pid types.PositionID) (types.UserBalances, error)
	PoolUser(sousID types.PositionID) (types.UserBalances, error)
	Price(d types.Deployment, q types.QuoteToken) (types.ResolvedPrice, error)
	Prices(d types.Deployment) (map[types.QuoteToken]types.ResolvedPrice, error)
	TotalValue(d types.Deployment) (types.TotalValue, error)
	TotalValues() []types.TotalValue
	LpTokenPrice(d types.Deployment, symbol string) (sdkmath.LegacyDec, error)
	TokenPrice(address string) (sdkmath.LegacyDec, bool)
	SetPriceOverride(d types.Deployment, q types.QuoteToken, price *sdkmath.LegacyDec) error
}

// AccountSwitcher connects, switches or disconnects the tracked account.
type AccountSwitcher interface {
	Account() string
	SetAccount(account string)
}

var (
	_ Valuations      = (*engine.Engine)(nil)
	_ AccountSwitcher = (*engine.Clock)(nil)
)

// WebServer serves valuation reads, health and metrics.
type WebServer struct {
	router     *mux.Router
	port       string
	valuations Valuations
	accounts   AccountSwitcher
	gatherer   prometheus.Gatherer
	server     *http.Server
}

// NewWebServer creates a new web server instance. accounts and gatherer are optional.
func NewWebServer(port string, valuations Valuations, accounts AccountSwitcher, gatherer prometheus.Gatherer) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		valuations: valuations,
		accounts:   accounts,
		gatherer:   gatherer,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if ws.gatherer != nil {
		ws.router.Handle("/metrics", observability.Handler(ws.gatherer)).Methods("GET")
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Totals
	api.HandleFunc("/totals", ws.handleGetTotals).Methods("GET")
	api.HandleFunc("/{deployment}/total", ws.handleGetTotal).Methods("GET")

	// Farms
	api.HandleFunc("/{deployment}/farms", ws.handleGetFarms).Methods("GET")
	api.HandleFunc("/{deployment}/farms/{pid:[0-9]+}", ws.handleGetFarm).Methods("GET")
	api.HandleFunc("/{deployment}/farms/{pid:[0-9]+}/user", ws.handleGetFarmUser).Methods("GET")
	api.HandleFunc("/{deployment}/farms/symbol/{symbol}", ws.handleGetFarmBySymbol).Methods("GET")
	api.HandleFunc("/{deployment}/lp-price/{symbol}", ws.handleGetLpTokenPrice).Methods("GET")

	// Prices
	api.HandleFunc("/{deployment}/prices", ws.handleGetPrices).Methods("GET")
	api.HandleFunc("/{deployment}/prices/{quote}", ws.handleGetPrice).Methods("GET")
	api.HandleFunc("/{deployment}/prices/{quote}/override", ws.handleSetPriceOverride).Methods("PUT", "DELETE")
	api.HandleFunc("/tokens/{address}/price", ws.handleGetTokenPrice).Methods("GET")

	// Pools
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{sousId:[0-9]+}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{sousId:[0-9]+}/user", ws.handleGetPoolUser).Methods("GET")

	// Account
	api.HandleFunc("/account", ws.handleGetAccount).Methods("GET")
	api.HandleFunc("/account", ws.handleSetAccount).Methods("PUT", "DELETE")

	// History
	api.HandleFunc("/valuations", ws.handleGetValuations).Methods("GET")
	api.HandleFunc("/valuations/{id:[0-9]+}", ws.handleGetValuation).Methods("GET")
	api.HandleFunc("/valuations/summary/{deployment}", ws.handleGetValuationSummary).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the routed handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server. It returns http.ErrServerClosed after Shutdown.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws.server.ListenAndServe()
}

// Shutdown gracefully stops a started server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth reports freshness of every total and database reachability
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	totals := make(map[string]interface{})
	for _, tv := range ws.valuations.TotalValues() {
		totals[string(tv.Deployment)] = map[string]interface{}{
			"stale":             tv.Stale,
			"generation":        tv.Generation,
			"updated_at":        tv.UpdatedAt,
			"unknown_positions": len(tv.UnknownPositions),
		}
		if tv.Stale {
			hasErrors = true
		}
	}

	dbStatus := "disabled"
	if state.DB != nil {
		dbStatus = "healthy"
		if err := state.TestDBConnection(); err != nil {
			dbStatus = "unhealthy"
			hasErrors = true
		}
	}

	accountConnected := false
	if ws.accounts != nil {
		accountConnected = ws.accounts.Account() != ""
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "tvl-aggregator",
			"version": "1.0.0",
		},
		"tvl_status": map[string]interface{}{
			"database":          dbStatus,
			"account_connected": accountConnected,
			"totals":            totals,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// totalValueResponse adds the formatted USD amount to a total
type totalValueResponse struct {
	types.TotalValue
	TotalDisplay string `json:"total_display"`
}

func newTotalValueResponse(tv types.TotalValue) totalValueResponse {
	return totalValueResponse{TotalValue: tv, TotalDisplay: utils.FormatUSD(tv.Total)}
}

func (ws *WebServer) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	totals := ws.valuations.TotalValues()
	out := make([]totalValueResponse, 0, len(totals))
	for _, tv := range totals {
		out = append(out, newTotalValueResponse(tv))
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"totals": out,
		"count":  len(out),
	})
}

func (ws *WebServer) handleGetTotal(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	tv, err := ws.valuations.TotalValue(d)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, newTotalValueResponse(tv))
}

func (ws *WebServer) handleGetFarms(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	farms, err := ws.valuations.Farms(d)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"deployment": d,
		"farms":      farms,
		"count":      len(farms),
	})
}

func (ws *WebServer) handleGetFarm(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}
	pid, ok := ws.positionVar(w, r, "pid")
	if !ok {
		return
	}

	farm, err := ws.valuations.FarmByPID(d, pid)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, farm)
}

func (ws *WebServer) handleGetFarmUser(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}
	pid, ok := ws.positionVar(w, r, "pid")
	if !ok {
		return
	}

	balances, err := ws.valuations.FarmUser(d, pid)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, balances)
}

func (ws *WebServer) handleGetFarmBySymbol(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	farm, err := ws.valuations.FarmBySymbol(d, mux.Vars(r)["symbol"])
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, farm)
}

func (ws *WebServer) handleGetLpTokenPrice(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}
	symbol := mux.Vars(r)["symbol"]

	price, err := ws.valuations.LpTokenPrice(d, symbol)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"deployment": d,
		"lp_symbol":  symbol,
		"price":      price,
	})
}

func (ws *WebServer) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	prices, err := ws.valuations.Prices(d)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"deployment": d,
		"prices":     prices,
	})
}

func (ws *WebServer) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	q, err := types.ParseQuoteToken(mux.Vars(r)["quote"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	price, err := ws.valuations.Price(d, q)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, price)
}

// handleSetPriceOverride pins (PUT) or releases (DELETE) a constant class price. The change is
// stored when history is enabled and applied in memory either way.
func (ws *WebServer) handleSetPriceOverride(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	q, err := types.ParseQuoteToken(mux.Vars(r)["quote"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var price *sdkmath.LegacyDec
	if r.Method == http.MethodPut {
		var body struct {
			Price string `json:"price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Price == "" {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must be {\"price\": \"<decimal>\"}")
			return
		}
		parsed, err := sdkmath.LegacyNewDecFromStr(body.Price)
		if err != nil || parsed.IsNegative() {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Price must be a non-negative decimal")
			return
		}
		price = &parsed
	}

	persisted := false
	if state.DB != nil {
		if err := state.SavePriceOverride(r.Context(), d, q, price); err != nil {
			webLogger.Error().Err(err).Str("deployment", string(d)).Str("quoteToken", string(q)).Msg("Failed to save price override")
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to save price override")
			return
		}
		persisted = true
	}

	if err := ws.valuations.SetPriceOverride(d, q, price); err != nil {
		ws.writeLookupError(w, err)
		return
	}

	resolved, err := ws.valuations.Price(d, q)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"deployment": d,
		"price":      resolved,
		"overridden": price != nil,
		"persisted":  persisted,
	})
}

func (ws *WebServer) handleGetTokenPrice(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	price, ok := ws.valuations.TokenPrice(address)
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No API price for token")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"price":   price,
	})
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := ws.valuations.Pools()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	})
}

func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	sousID, ok := ws.positionVar(w, r, "sousId")
	if !ok {
		return
	}

	pool, err := ws.valuations.PoolBySousID(sousID)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, pool)
}

func (ws *WebServer) handleGetPoolUser(w http.ResponseWriter, r *http.Request) {
	sousID, ok := ws.positionVar(w, r, "sousId")
	if !ok {
		return
	}

	balances, err := ws.valuations.PoolUser(sousID)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, balances)
}

func (ws *WebServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account := ""
	if ws.accounts != nil {
		account = ws.accounts.Account()
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"account":   account,
		"connected": account != "",
	})
}

// handleSetAccount connects (PUT) or disconnects (DELETE) the tracked account
func (ws *WebServer) handleSetAccount(w http.ResponseWriter, r *http.Request) {
	if ws.accounts == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Account tracking not available")
		return
	}

	account := ""
	if r.Method == http.MethodPut {
		var body struct {
			Account string `json:"account"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Account == "" {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Request body must be {\"account\": \"0x...\"}")
			return
		}
		account = body.Account
	}

	ws.accounts.SetAccount(account)
	ws.handleGetAccount(w, r)
}

// handleGetValuations returns recorded totals, newest first
func (ws *WebServer) handleGetValuations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	var d types.Deployment
	if raw := r.URL.Query().Get("deployment"); raw != "" {
		parsed, err := types.ParseDeployment(raw)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		d = parsed
	}

	valuations, err := state.GetRecentValuations(r.Context(), d, limit)
	if err != nil {
		ws.writeHistoryError(w, err, "Failed to retrieve valuations")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"valuations": valuations,
		"count":      len(valuations),
		"limit":      limit,
	})
}

func (ws *WebServer) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid valuation ID")
		return
	}

	valuation, err := state.GetValuationByID(r.Context(), id)
	if err != nil {
		ws.writeHistoryError(w, err, "Failed to retrieve valuation")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, valuation)
}

func (ws *WebServer) handleGetValuationSummary(w http.ResponseWriter, r *http.Request) {
	d, ok := ws.deploymentVar(w, r)
	if !ok {
		return
	}

	summary, err := state.GetValuationSummary(r.Context(), d)
	if err != nil {
		ws.writeHistoryError(w, err, "Failed to retrieve valuation summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) deploymentVar(w http.ResponseWriter, r *http.Request) (types.Deployment, bool) {
	d, err := types.ParseDeployment(mux.Vars(r)["deployment"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return d, true
}

func (ws *WebServer) positionVar(w http.ResponseWriter, r *http.Request, name string) (types.PositionID, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return types.PositionID(id), true
}

// writeLookupError maps engine errors to status codes
func (ws *WebServer) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		ws.writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrUnknownDeployment), errors.Is(err, types.ErrUnknownQuoteToken), errors.Is(err, engine.ErrInvalidOverride):
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
	default:
		webLogger.Error().Err(err).Msg("Lookup failed")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Lookup failed")
	}
}

func (ws *WebServer) writeHistoryError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, state.ErrDBNotInitialized):
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Valuation history is disabled")
	case errors.Is(err, state.ErrNotFound):
		ws.writeErrorResponse(w, http.StatusNotFound, err.Error())
	default:
		webLogger.Error().Err(err).Msg(message)
		ws.writeErrorResponse(w, http.StatusInternalServerError, message)
	}
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remoteAddr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

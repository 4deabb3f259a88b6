package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trendcross/internal/backtest"
	"trendcross/internal/indicator"
	"trendcross/internal/live"
	"trendcross/internal/marketdata/binance"
	"trendcross/internal/metrics"
	"trendcross/internal/model"
	"trendcross/internal/store/sqlite"
	"trendcross/internal/strategy"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

const (
	defaultDataDays = 7
	maxDataDays     = 365
)

// HistoryFetcher downloads closed bars covering the last days.
type HistoryFetcher interface {
	HistoricalDays(ctx context.Context, series model.Series, days int) ([]model.Bar, error)
}

// RunStore lists and loads stored backtest runs.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]sqlite.RunRecord, error)
	ReadRun(ctx context.Context, id string) (*sqlite.RunRecord, error)
}

// RunSaver persists backtest runs.
type RunSaver interface {
	SaveRun(ctx context.Context, res *backtest.Result) error
}

// StreamController starts and stops live runners.
type StreamController interface {
	Start(series model.Series) (*live.Runner, error)
	Stop(series model.Series) error
	StopAll()
	Running() []live.Status
}

// API serves the REST and WebSocket surface. Nil collaborators disable
// the endpoints that need them.
type API struct {
	Hub      *Hub
	Strategy *StrategyStore
	History  HistoryFetcher
	Bars     model.BarReader
	Runs     RunStore
	Saver    RunSaver
	Streams  StreamController
	Auth     *TOTPGuard
	Metrics  *metrics.Metrics
	Ping     func(ctx context.Context) error
	Started  time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TOTPHeader)
}

// Handler returns the routed API with CORS applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// RegisterRoutes registers all HTTP routes on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", a.handleWS)

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/symbols", a.handleSymbols)
	mux.HandleFunc("GET /api/intervals", a.handleIntervals)
	mux.HandleFunc("GET /api/strategy", a.handleGetStrategy)
	mux.HandleFunc("POST /api/strategy", a.handleSetStrategy)
	mux.HandleFunc("GET /api/data/{symbol}/{interval}", a.handleData)
	mux.HandleFunc("POST /api/backtest/{symbol}/{interval}", a.handleBacktest)
	mux.HandleFunc("GET /api/runs", a.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", a.handleGetRun)
	mux.HandleFunc("GET /api/streams", a.handleStreams)
	mux.HandleFunc("POST /api/stream/start", a.Auth.Wrap(a.handleStreamStart))
	mux.HandleFunc("POST /api/stream/stop", a.Auth.Wrap(a.handleStreamStop))
	mux.HandleFunc("GET /api/latest", a.handleLatest)
	mux.HandleFunc("GET /api/missed", a.handleMissed)
	mux.HandleFunc("GET /api/metrics", a.handleMetrics)
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api_gateway] ws upgrade error: %v", err)
		return
	}
	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
	a.Hub.HandleWSRequest(conn, lastSeq)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":     "ok",
		"ws_clients": a.Hub.ClientCount(),
		"uptime_sec": int64(time.Since(a.Started).Seconds()),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	}
	if a.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		redisOK := a.Ping(ctx) == nil
		resp["redis"] = redisOK
		if !redisOK {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": binance.Symbols})
}

func (a *API) handleIntervals(w http.ResponseWriter, r *http.Request) {
	names := binance.IntervalNames()
	out := make([]IntervalInfo, len(names))
	for i, n := range names {
		d, _ := binance.IntervalDuration(n)
		out[i] = IntervalInfo{Value: n, Label: binance.IntervalLabel(n), Seconds: int64(d.Seconds())}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"intervals": out})
}

func (a *API) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Strategy.Get())
}

func (a *API) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	sc := a.Strategy.Get()
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.Strategy.Set(r.Context(), sc); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	log.Printf("[api_gateway] strategy updated: %d/%d/%d trend=%d tp=%.4f sl=%.4f",
		sc.FastPeriod, sc.SlowPeriod, sc.SignalPeriod, sc.TrendPeriod, sc.TakeProfitPct, sc.StopLossPct)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "strategy": sc})
}

func (a *API) handleData(w http.ResponseWriter, r *http.Request) {
	series, step, err := pathSeries(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := queryDays(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bars, err := a.loadBars(r.Context(), series, days)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if len(bars) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no data for %s", series.Key()))
		return
	}

	sc := a.Strategy.Get()
	cfg := sc.Backtest(step)
	frame, err := indicator.Compute(bars, cfg.Indicator)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	signals := strategy.Points(strategy.Detect(frame, bars), bars)
	if signals == nil {
		signals = []model.SignalPoint{}
	}
	writeJSON(w, http.StatusOK, DataResponse{
		Success:    true,
		Symbol:     series.Symbol,
		Interval:   series.Interval,
		Strategy:   sc,
		Bars:       toBarOut(bars),
		Indicators: toIndicatorRows(frame, bars),
		Signals:    signals,
	})
}

func (a *API) handleBacktest(w http.ResponseWriter, r *http.Request) {
	series, step, err := pathSeries(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := BacktestRequest{DaysBack: defaultDataDays, Strategy: a.Strategy.Get()}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.DaysBack <= 0 || req.DaysBack > maxDataDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days_back must be in [1, %d]", maxDataDays))
		return
	}
	sc := req.resolve()
	if err := sc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := a.loadBars(r.Context(), series, req.DaysBack)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	start := time.Now()
	res, err := backtest.Run(r.Context(), series, bars, sc.Backtest(step))
	if a.Metrics != nil {
		a.Metrics.ObserveBacktest(time.Since(start), err)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	saved := false
	if a.Saver != nil && (req.Save == nil || *req.Save) {
		if err := a.Saver.SaveRun(r.Context(), res); err != nil {
			log.Printf("[api_gateway] WARNING: save run %s: %v", res.RunID, err)
		} else {
			saved = true
		}
	}
	log.Printf("[api_gateway] backtest %s %s: %d bars, %d trades, return %.2f%%",
		res.RunID, series.Key(), res.Bars, len(res.Trades), res.Summary.TotalReturn)
	writeJSON(w, http.StatusOK, BacktestResponse{Success: true, Saved: saved, Results: res})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		writeError(w, http.StatusNotFound, "run history not configured")
		return
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	runs, err := a.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []sqlite.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		writeError(w, http.StatusNotFound, "run history not configured")
		return
	}
	run, err := a.Runs.ReadRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleStreams(w http.ResponseWriter, r *http.Request) {
	var running []live.Status
	if a.Streams != nil {
		running = a.Streams.Running()
	}
	if running == nil {
		running = []live.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": running})
}

func (a *API) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if a.Streams == nil {
		writeError(w, http.StatusNotImplemented, "live streams not configured")
		return
	}
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	series, _, err := parseSeries(req.Symbol, req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runner, err := a.Streams.Start(series)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	log.Printf("[api_gateway] stream started: %s session=%s", series.Key(), runner.Session().ID())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"series":     series,
		"session_id": runner.Session().ID(),
	})
}

func (a *API) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if a.Streams == nil {
		writeError(w, http.StatusNotImplemented, "live streams not configured")
		return
	}
	var req StreamRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Symbol == "" && req.Interval == "" {
		a.Streams.StopAll()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stopped": "all"})
		return
	}
	series, _, err := parseSeries(req.Symbol, req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Streams.Stop(series); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stopped": series.Key()})
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Hub.GetLatestAll())
}

// handleMissed serves buffered envelopes for client gap backfill:
// /api/missed?channel=events:BTCUSDT:1h&from=5&to=9
func (a *API) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "channel, from and to are required")
		return
	}
	entries := a.Hub.GetReplayRange(channel, from, to)
	msgs := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		msgs[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":     channel,
		"channel_seq": a.Hub.GetChannelSeq(channel),
		"messages":    msgs,
	})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := CollectMetrics(a.Started)
	m.LatencyP50, m.LatencyP95, m.LatencyP99 = a.Hub.Latency.Percentiles()
	m.Clients = a.Hub.ClientCount()
	if a.Streams != nil {
		m.Streams = len(a.Streams.Running())
	}
	writeJSON(w, http.StatusOK, m)
}

// loadBars reads from the exchange when configured, otherwise from the
// local bar store.
func (a *API) loadBars(ctx context.Context, series model.Series, days int) ([]model.Bar, error) {
	if a.History != nil {
		bars, err := a.History.HistoricalDays(ctx, series, days)
		if err != nil {
			return nil, &upstreamError{err: err}
		}
		return bars, nil
	}
	if a.Bars != nil {
		from := time.Now().UTC().AddDate(0, 0, -days)
		return a.Bars.ReadBars(ctx, series, from, time.Time{})
	}
	return nil, errors.New("no bar source configured")
}

type upstreamError struct{ err error }

func (e *upstreamError) Error() string { return "fetch klines: " + e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func pathSeries(r *http.Request) (model.Series, time.Duration, error) {
	return parseSeries(r.PathValue("symbol"), r.PathValue("interval"))
}

func parseSeries(symbol, interval string) (model.Series, time.Duration, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return model.Series{}, 0, errors.New("symbol is required")
	}
	step, ok := binance.IntervalDuration(interval)
	if !ok {
		return model.Series{}, 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return model.Series{Symbol: symbol, Interval: interval}, step, nil
}

func queryDays(s string) (int, error) {
	if s == "" {
		return defaultDataDays, nil
	}
	d, err := strconv.Atoi(s)
	if err != nil || d <= 0 || d > maxDataDays {
		return 0, fmt.Errorf("days must be in [1, %d]", maxDataDays)
	}
	return d, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var up *upstreamError
	switch {
	case errors.Is(err, model.ErrInvalidConfiguration), errors.Is(err, model.ErrDataGap):
		return http.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, live.ErrNotRunning):
		return http.StatusNotFound
	case errors.Is(err, live.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &up):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v before writing the header so an unencodable value
// becomes a 500 instead of a truncated success.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[api_gateway] encode response: %v", err)
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":"response encoding failed"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

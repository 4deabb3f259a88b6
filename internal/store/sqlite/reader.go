package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"trendcross/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is a stored backtest run.
type RunRecord struct {
	ID        string          `json:"id"`
	Series    model.Series    `json:"series"`
	Bars      int             `json:"bars"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Config    json.RawMessage `json:"config"`
	Summary   model.Summary   `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
	Trades    []model.Trade   `json:"trades,omitempty"`
}

// Reader provides read-only access to SQLite for backtests, replay and the API.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars for series with from <= ts < to (zero to = no upper
// bound), ordered by timestamp ascending. Implements model.BarReader.
func (r *Reader) ReadBars(ctx context.Context, series model.Series, from, to time.Time) ([]model.Bar, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND interval = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, series.Symbol, series.Interval, from.UnixMilli(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		var vol sql.NullFloat64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(ts).UTC()
		b.Volume = vol.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListRuns returns the most recent runs, newest first, without trades.
func (r *Reader) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, interval, bars, start_ts, end_ts, config, summary, created_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// ReadRun loads one run with its trade log. Returns ErrNotFound for unknown IDs.
func (r *Reader) ReadRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, symbol, interval, bars, start_ts, end_ts, config, summary, created_at
		FROM backtest_runs WHERE id = ?
	`, id)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT side, entry_ts, entry_price, exit_ts, exit_price, ret, reason, size
		FROM trades WHERE run_id = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Trade
		var side, reason string
		var entryTS, exitTS int64
		if err := rows.Scan(&side, &entryTS, &t.EntryPrice, &exitTS, &t.ExitPrice, &t.Return, &reason, &t.Size); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		t.Side = model.Side(side)
		t.Reason = model.ExitReason(reason)
		t.EntryTS = time.UnixMilli(entryTS).UTC()
		t.ExitTS = time.UnixMilli(exitTS).UTC()
		rec.Trades = append(rec.Trades, t)
	}
	return &rec, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var rec RunRecord
	var startTS, endTS, created int64
	var cfg, sum string
	if err := s.Scan(&rec.ID, &rec.Series.Symbol, &rec.Series.Interval, &rec.Bars,
		&startTS, &endTS, &cfg, &sum, &created); err != nil {
		return rec, err
	}
	rec.Start = time.UnixMilli(startTS).UTC()
	rec.End = time.UnixMilli(endTS).UTC()
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.Config = json.RawMessage(cfg)
	if err := json.Unmarshal([]byte(sum), &rec.Summary); err != nil {
		return rec, fmt.Errorf("unmarshal summary: %w", err)
	}
	return rec, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

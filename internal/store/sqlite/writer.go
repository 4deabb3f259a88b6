package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trendcross/internal/backtest"
	"trendcross/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit, if set, receives the duration of each RunBars batch commit.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			PRIMARY KEY (symbol, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			id         TEXT    PRIMARY KEY,
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			bars       INTEGER NOT NULL,
			start_ts   INTEGER NOT NULL,
			end_ts     INTEGER NOT NULL,
			config     TEXT    NOT NULL,
			summary    TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);

		CREATE TABLE IF NOT EXISTS trades (
			run_id      TEXT    NOT NULL,
			seq         INTEGER NOT NULL,
			side        TEXT    NOT NULL,
			entry_ts    INTEGER NOT NULL,
			entry_price REAL    NOT NULL,
			exit_ts     INTEGER NOT NULL,
			exit_price  REAL    NOT NULL,
			ret         REAL    NOT NULL,
			reason      TEXT    NOT NULL,
			size        REAL    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}

// SaveBars upserts bars for series in a single transaction.
func (w *Writer) SaveBars(ctx context.Context, series model.Series, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, series.Symbol, series.Interval, b.TS.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RunBars reads closed bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) RunBars(ctx context.Context, series model.Series, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// The batch outlives ctx on shutdown; flush with a fresh context.
		if err := w.SaveBars(context.WithoutCancel(ctx), series, batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			d := time.Since(start)
			if w.OnCommit != nil {
				w.OnCommit(d)
			}
			log.Printf("[sqlite] committed %d bars in %v", len(batch), d)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastBarTime returns the open time of the newest stored bar for series,
// or the zero time when none exist.
func (w *Writer) LastBarTime(ctx context.Context, series model.Series) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND interval = ?`,
		series.Symbol, series.Interval,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// SaveRun persists a backtest result and its trade log in one transaction.
func (w *Writer) SaveRun(ctx context.Context, res *backtest.Result) error {
	cfgJSON, err := json.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	sumJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, symbol, interval, bars, start_ts, end_ts, config, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, res.Series.Symbol, res.Series.Interval, res.Bars,
		res.Start.UnixMilli(), res.End.UnixMilli(), string(cfgJSON), string(sumJSON), res.CreatedAt.UnixMilli())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, side, entry_ts, entry_price, exit_ts, exit_price, ret, reason, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, t := range res.Trades {
		if _, err := stmt.ExecContext(ctx, res.RunID, i, string(t.Side), t.EntryTS.UnixMilli(), t.EntryPrice,
			t.ExitTS.UnixMilli(), t.ExitPrice, t.Return, string(t.Reason), t.Size); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert trade %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[sqlite] saved run %s (%d trades)", res.RunID, len(res.Trades))
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

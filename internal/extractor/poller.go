// Package extractor drives the incremental extraction loop: snapshot the
// source, fetch rows beyond the cursor, recover text, resolve identities,
// persist, and advance the cursor exactly once per successful batch.
package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Napageneral/chatfeed/internal/decode"
	"github.com/Napageneral/chatfeed/internal/metrics"
	"github.com/Napageneral/chatfeed/internal/snapshot"
	"github.com/Napageneral/chatfeed/internal/store"
)

// Options configures a Poller.
type Options struct {
	Interval  time.Duration
	BatchSize int
	Observer  Observer

	// WatchPath, when set, adds an fsnotify trigger on the source database
	// directory so a cycle runs shortly after the source changes instead
	// of waiting out the interval. The timer remains the fallback.
	WatchPath string
}

// Poller is the single-writer polling loop. One goroutine runs the loop;
// Status may be called concurrently from other goroutines.
type Poller struct {
	snapshots *snapshot.Manager
	store     *store.Store
	decoder   *decode.Decoder
	resolver  IdentityResolver
	observer  Observer

	interval  time.Duration
	batchSize int
	watchPath string

	mu      sync.Mutex
	running bool
	lastErr string
}

// New assembles a poller from its collaborators.
func New(snapshots *snapshot.Manager, st *store.Store, dec *decode.Decoder, resolver IdentityResolver, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		snapshots: snapshots,
		store:     st,
		decoder:   dec,
		resolver:  resolver,
		observer:  opts.Observer,
		interval:  interval,
		batchSize: batchSize,
		watchPath: opts.WatchPath,
	}
}

// Initialize creates the cursor row if needed. Idempotent.
func (p *Poller) Initialize() error {
	if err := p.store.InitCursor(); err != nil {
		return fmt.Errorf("failed to initialize cursor: %w", err)
	}
	return nil
}

// Status reports the current loop state.
func (p *Poller) Status() (StatusReport, error) {
	cursor, err := p.store.GetCursor()
	if err != nil {
		return StatusReport{}, fmt.Errorf("failed to read cursor: %w", err)
	}

	p.mu.Lock()
	running := p.running
	lastErr := p.lastErr
	p.mu.Unlock()

	return StatusReport{
		Running:      running,
		Cursor:       cursor,
		PollInterval: p.interval,
		BatchSize:    p.batchSize,
		LastError:    lastErr,
		Decode:       p.decoder.Stats(),
	}, nil
}

// PollOnce runs a single cycle. Any failure leaves the cursor untouched so
// the batch is retried in full on the next tick.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	start := time.Now()

	_ = p.store.SetStatus(store.StatusPolling, "")

	cursor, err := p.store.GetCursor()
	if err != nil {
		return p.fail(start, fmt.Errorf("failed to read cursor: %w", err))
	}

	snap, err := p.snapshots.GetSnapshot(cursor.LastProcessedRowID, false)
	if err != nil {
		return p.fail(start, fmt.Errorf("failed to get snapshot: %w", err))
	}

	records, err := p.fetchNewRecords(ctx, snap.Path, cursor.LastProcessedRowID)
	if err != nil {
		return p.fail(start, err)
	}

	if len(records) == 0 {
		_ = p.store.SetStatus(store.StatusIdle, "")
		p.setLastError("")
		metrics.PollCyclesTotal.WithLabelValues("idle").Inc()
		return PollResult{
			Success:            true,
			LastProcessedRowID: cursor.LastProcessedRowID,
			Duration:           time.Since(start),
		}
	}

	_ = p.store.SetStatus(store.StatusSyncing, "")
	metrics.RecordsFetchedTotal.Add(float64(len(records)))

	batch := p.normalize(records)

	persisted, err := p.store.UpsertMessages(batch)
	if err != nil {
		return p.fail(start, fmt.Errorf("failed to persist batch: %w", err))
	}
	metrics.RecordsPersistedTotal.Add(float64(persisted))

	// Advance past every fetched record, including ones skipped for empty
	// text or unresolvable identity: retrying those cannot change the
	// outcome and would stall the stream.
	maxRowID := records[len(records)-1].RowID
	if err := p.store.AdvanceCursor(maxRowID, int64(len(records)), store.StatusIdle); err != nil {
		return p.fail(start, fmt.Errorf("failed to advance cursor: %w", err))
	}
	p.setLastError("")

	log.WithFields(log.Fields{
		"new":       len(records),
		"persisted": persisted,
		"cursor":    maxRowID,
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("poll cycle complete")

	p.notify(records, persisted)
	metrics.PollCyclesTotal.WithLabelValues("synced").Inc()

	return PollResult{
		Success:            true,
		NewRecords:         len(records),
		Persisted:          persisted,
		LastProcessedRowID: maxRowID,
		Duration:           time.Since(start),
	}
}

// fetchNewRecords queries the snapshot for rows strictly beyond the cursor,
// ascending, capped at the batch size.
func (p *Poller) fetchNewRecords(ctx context.Context, snapshotPath string, afterRowID int64) ([]SourceRecord, error) {
	db, err := sql.Open("sqlite", snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT ROWID, guid, text, attributedBody, handle_id, date, is_from_me, service
		FROM message
		WHERE ROWID > ?
		ORDER BY ROWID ASC
		LIMIT ?
	`, afterRowID, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var records []SourceRecord
	for rows.Next() {
		var (
			rec      SourceRecord
			guid     sql.NullString
			text     sql.NullString
			body     []byte
			handleID sql.NullInt64
			date     sql.NullInt64
			fromMe   sql.NullInt64
			service  sql.NullString
		)
		if err := rows.Scan(&rec.RowID, &guid, &text, &body, &handleID, &date, &fromMe, &service); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		rec.GUID = guid.String
		rec.Text = text.String
		rec.AttributedBody = body
		rec.HandleID = handleID.Int64
		rec.Date = date.Int64
		rec.IsFromMe = fromMe.Int64 != 0
		rec.Service = service.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source rows: %w", err)
	}
	return records, nil
}

// normalize decodes text and resolves identities, dropping records with
// nothing useful to persist. Per-record failures never abort the batch.
func (p *Poller) normalize(records []SourceRecord) []store.Message {
	batch := make([]store.Message, 0, len(records))

	for i := range records {
		rec := &records[i]

		result := p.decoder.Extract(rec.Text, rec.AttributedBody)
		rec.ExtractedText = result.Text
		metrics.DecodeTotal.WithLabelValues(decodeLabel(result.Strategy)).Inc()

		if strings.TrimSpace(rec.ExtractedText) == "" {
			log.WithField("rowid", rec.RowID).Debug("no text content, skipping")
			metrics.RecordsSkippedTotal.WithLabelValues("no_text").Inc()
			continue
		}

		user, err := p.resolver.Resolve(rec.HandleID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"rowid":     rec.RowID,
				"handle_id": rec.HandleID,
			}).Warn("could not resolve user, skipping record")
			metrics.RecordsSkippedTotal.WithLabelValues("identity").Inc()
			continue
		}

		batch = append(batch, store.Message{
			MessageID: rec.RowID,
			UserID:    user.ID,
			Contents:  rec.ExtractedText,
			IsFromMe:  rec.IsFromMe,
			CreatedAt: appleTimeToRFC3339(rec.Date),
		})
	}

	return batch
}

// notify invokes the observer, containing any panic so callback bugs cannot
// corrupt cursor state.
func (p *Poller) notify(records []SourceRecord, persisted int) {
	if p.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("observer panicked")
		}
	}()
	p.observer.OnNewRecords(records, persisted)
}

func (p *Poller) fail(start time.Time, err error) PollResult {
	log.WithError(err).Error("poll cycle failed")
	_ = p.store.SetStatus(store.StatusError, err.Error())
	p.setLastError(err.Error())
	metrics.PollCyclesTotal.WithLabelValues("error").Inc()
	return PollResult{
		Success:  false,
		Err:      err.Error(),
		Duration: time.Since(start),
	}
}

func (p *Poller) setLastError(msg string) {
	p.mu.Lock()
	p.lastErr = msg
	p.mu.Unlock()
}

func decodeLabel(s decode.Strategy) string {
	if s == decode.StrategyNone {
		return "none"
	}
	return string(s)
}

// Run drives repeated cycles until ctx is canceled. A failed cycle is
// logged and retried on the next tick; nothing here terminates the process.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		_ = p.store.SetStatus(store.StatusStopped, "")
	}()

	wake, stopWatch, err := p.startWatcher(ctx)
	if err != nil {
		// Watch mode is best-effort; the timer still drives the loop.
		log.WithError(err).Warn("source watcher unavailable, falling back to timer only")
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	log.WithFields(log.Fields{
		"interval":   p.interval,
		"batch_size": p.batchSize,
	}).Info("polling started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("polling stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-wake:
			p.PollOnce(ctx)
		}
	}
}

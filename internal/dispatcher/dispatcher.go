// Package dispatcher implements the Notification Dispatcher (spec §4.5): a
// durable LISTEN/NOTIFY subscription loop that multiplexes change
// notifications from the six `{table}_sync` channels, parses each payload,
// invokes the Sync Orchestrator synchronously, and maintains a heartbeat
// liveness artifact for external monitors.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
	"github.com/fairyhunter13/oltp-olap-sync/internal/metrics"
)

// Channels lists the six natural-key notification channels subscribed to at
// startup (spec §6), in the `{table}_sync` convention.
var Channels = []string{"ventas", "productos", "clientes", "categoria", "orden", "orden_producto"}

// State is one of the dispatcher's run-loop states (spec §4.5).
type State string

const (
	StateStarting   State = "STARTING"
	StateSubscribed State = "SUBSCRIBED"
	StateIdle       State = "IDLE"
	StateDraining   State = "DRAINING"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
)

// readyWait bounds how long the dispatcher blocks waiting for the listen
// connection to become readable before it loops back to the heartbeat check
// (spec §4.5 step 2).
const readyWait = 5 * time.Second

// Conn is the subset of *pgx.Conn the dispatcher needs: a single,
// autocommit-mode connection dedicated to LISTEN/NOTIFY (spec §4.5).
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Syncer is the subset of *orchestrator.Orchestrator the dispatcher drives.
type Syncer interface {
	Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
}

// Dispatcher owns one listen connection and the run loop that drains it.
type Dispatcher struct {
	Conn              Conn
	Sync              Syncer
	HeartbeatInterval time.Duration
	LivenessPath      string

	state         State
	lastHeartbeat time.Time
}

// New constructs a Dispatcher. heartbeatInterval and livenessPath come
// straight from Config (spec §6).
func New(conn Conn, sync Syncer, heartbeatInterval time.Duration, livenessPath string) *Dispatcher {
	return &Dispatcher{
		Conn:              conn,
		Sync:              sync,
		HeartbeatInterval: heartbeatInterval,
		LivenessPath:      livenessPath,
		state:             StateStarting,
	}
}

// State reports the dispatcher's current run-loop state.
func (d *Dispatcher) State() State { return d.state }

// Subscribe issues LISTEN for every channel in Channels and transitions to
// SUBSCRIBED. It must be called once before Run.
func (d *Dispatcher) Subscribe(ctx context.Context) error {
	for _, table := range Channels {
		channel := table + "_sync"
		if _, err := d.Conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
			d.state = StateStopping
			return fmt.Errorf("op=dispatcher.subscribe: listen %s: %w", channel, err)
		}
	}
	d.state = StateSubscribed
	slog.Info("dispatcher: subscribed", slog.Int("channels", len(Channels)))
	return nil
}

// Run executes the dispatcher's cooperative run loop (spec §4.5) until ctx
// is cancelled (SIGINT/SIGTERM) or an unrecoverable connection error occurs.
// The current notification, if any is in flight, always finishes before the
// loop observes cancellation — shutdown is checked only between
// notifications.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.state = StateStopping
			slog.Info("dispatcher: shutdown signal received, stopping")
			d.state = StateStopped
			return nil
		default:
		}

		d.maybeHeartbeat()

		notif, err := d.waitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				d.state = StateStopped
				return nil
			}
			d.state = StateStopping
			return fmt.Errorf("op=dispatcher.run: %w: %w", domain.ErrSubscriptionLost, err)
		}
		if notif == nil {
			continue
		}

		d.state = StateDraining
		queue := []*pgconn.Notification{notif}
		queue = append(queue, d.drainPending(ctx)...)
		for _, n := range queue {
			if ctx.Err() != nil {
				break
			}
			// The orchestrator call is not cancelled by shutdown; it runs to
			// completion (or its own failure) before the loop exits.
			d.handle(context.WithoutCancel(ctx), n)
		}
		d.state = StateIdle
	}
}

// waitForNotification blocks up to readyWait for a notification, returning
// context.DeadlineExceeded on timeout so the caller loops back to the
// heartbeat check (spec §4.5 step 2).
func (d *Dispatcher) waitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	waitCtx, cancel := context.WithTimeout(ctx, readyWait)
	defer cancel()
	n, err := d.Conn.WaitForNotification(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return n, nil
}

// drainPending polls for any further notifications already buffered on the
// connection, without blocking, implementing the "drain all pending" step
// (spec §4.5 step 3).
func (d *Dispatcher) drainPending(ctx context.Context) []*pgconn.Notification {
	var extra []*pgconn.Notification
	for {
		drainCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
		n, err := d.Conn.WaitForNotification(drainCtx)
		cancel()
		if err != nil {
			return extra
		}
		extra = append(extra, n)
	}
}

func (d *Dispatcher) maybeHeartbeat() {
	now := time.Now()
	if d.lastHeartbeat.IsZero() {
		d.lastHeartbeat = now.Add(-d.HeartbeatInterval)
	}
	if now.Sub(d.lastHeartbeat) < d.HeartbeatInterval {
		return
	}
	d.lastHeartbeat = now
	slog.Info("dispatcher: heartbeat")
	metrics.RecordHeartbeat(now.Unix())
	if err := writeLiveness(d.LivenessPath, now); err != nil {
		slog.Error("dispatcher: failed to write liveness artifact", slog.Any("error", err))
	}
}

// handle parses one notification's (table, op, id) and invokes the
// orchestrator synchronously; an orchestrator failure is logged and
// swallowed (spec §4.5's failure semantics) so the dispatcher keeps running.
func (d *Dispatcher) handle(ctx context.Context, n *pgconn.Notification) {
	table := strings.TrimSuffix(n.Channel, "_sync")
	op, idStr := parsePayload(n.Payload)
	correlationID := uuid.NewString()

	logger := slog.With(
		slog.String("correlation_id", correlationID),
		slog.String("table", table),
		slog.String("op", op),
		slog.String("channel", n.Channel),
	)
	logger.Info("dispatcher: notification received", slog.String("id", idStr))
	metrics.RecordNotification(table)

	req := domain.SyncRequest{Table: table, Op: op}
	if idStr != "" {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			req.ID = &id
		}
	}

	result, err := d.Sync.Sync(ctx, req)
	if err != nil {
		logger.Error("dispatcher: orchestrator invocation failed", slog.Any("error", err))
		return
	}
	logger.Info("dispatcher: orchestrator invocation complete",
		slog.Int("rows_processed", result.RowsProcessed),
		slog.Int("facts_written", result.FactsWritten),
		slog.Int("facts_skipped", result.FactsSkipped),
		slog.Int("placeholders_made", result.PlaceholdersMade))
}

// parsePayload implements the grammar `payload := op ":" id | raw` (spec §6):
// no colon means op="unknown" and the whole payload is treated as id.
func parsePayload(payload string) (op, id string) {
	if idx := strings.Index(payload, ":"); idx >= 0 {
		return payload[:idx], payload[idx+1:]
	}
	return "unknown", payload
}

type livenessDoc struct {
	LastHeartbeat int64 `json:"last_heartbeat"`
}

func writeLiveness(path string, ts time.Time) error {
	if path == "" {
		return nil
	}
	b, err := json.Marshal(livenessDoc{LastHeartbeat: ts.Unix()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Liveness classifications (spec §6).
const (
	LivenessUp         = "up"
	LivenessStale      = "stale"
	LivenessNotStarted = "not_started"
	LivenessError      = "error"
)

const staleThreshold = 120 * time.Second

// ClassifyLiveness reads the liveness artifact at path and classifies the
// worker's health the way the Trigger Interface's /worker-status endpoint
// does (spec §6).
func ClassifyLiveness(path string, now time.Time) (status string, lastHeartbeat int64, err error) {
	b, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return LivenessNotStarted, 0, nil
		}
		return LivenessError, 0, readErr
	}
	var doc livenessDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return LivenessError, 0, err
	}
	age := now.Sub(time.Unix(doc.LastHeartbeat, 0))
	if age < staleThreshold {
		return LivenessUp, doc.LastHeartbeat, nil
	}
	return LivenessStale, doc.LastHeartbeat, nil
}

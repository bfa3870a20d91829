// Package workflow implements the order lifecycle engine and the session,
// settlement, split-bill and assignment workflows around it. Every public
// operation runs inside a single database transaction; realtime events are
// collected during the transaction and emitted only after commit.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mesaops/bus"
	"mesaops/config"
	"mesaops/fault"
	"mesaops/money"
	"mesaops/pii"
)

// Engine owns the operations core. Construct it once with New and share it;
// all state lives in the database and the stream.
type Engine struct {
	db      *gorm.DB
	emitter *bus.Emitter
	codec   *pii.Codec
	log     *slog.Logger
	now     func() time.Time

	taxRate           decimal.Decimal
	priceMode         money.PriceMode
	sessionTTL        time.Duration
	closedWindow      time.Duration
	storeCancelReason bool
	autoAssignDefault bool
}

// Options captures the dependencies required to construct the engine.
type Options struct {
	DB     *gorm.DB
	Stream bus.Stream
	Codec  *pii.Codec
	Logger *slog.Logger
	Config *config.Config
	Now    func() time.Time
}

// New constructs a configured engine. Config defaults mirror the documented
// environment defaults.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{StoreCancelReason: true, AutoAssignDefault: true}
	}
	e := &Engine{
		db:                opts.DB,
		codec:             opts.Codec,
		log:               opts.Logger,
		now:               opts.Now,
		taxRate:           cfg.TaxRate,
		priceMode:         cfg.PriceMode,
		sessionTTL:        cfg.SessionTTL,
		closedWindow:      cfg.ClosedSessionsWindow,
		storeCancelReason: cfg.StoreCancelReason,
		autoAssignDefault: cfg.AutoAssignDefault,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.taxRate.IsZero() {
		e.taxRate = decimal.RequireFromString("0.16")
	}
	if e.priceMode == "" {
		e.priceMode = money.TaxExcluded
	}
	if e.sessionTTL <= 0 {
		e.sessionTTL = 4 * time.Hour
	}
	if e.closedWindow <= 0 {
		e.closedWindow = 24 * time.Hour
	}
	stream := opts.Stream
	if stream == nil {
		stream = bus.NewMemoryStream()
	}
	e.emitter = bus.NewEmitter(stream, e.log)
	return e
}

// DB exposes the underlying handle for read-only consumers such as the HTTP
// idempotency middleware.
func (e *Engine) DB() *gorm.DB { return e.db }

// inTx runs fn inside one transaction and emits the collected events only
// after a successful commit. On error the transaction rolls back and nothing
// is emitted or counted.
func (e *Engine) inTx(ctx context.Context, fn func(tx *gorm.DB, ev *eventBuffer) error) error {
	var buf eventBuffer
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		buf.events = buf.events[:0]
		buf.counters = buf.counters[:0]
		return fn(tx, &buf)
	})
	if err != nil {
		return err
	}
	for _, inc := range buf.counters {
		inc()
	}
	e.emitter.Emit(ctx, buf.events...)
	return nil
}

// eventBuffer accumulates events and metric increments produced by a
// transaction. Order events precede the session events the same transaction
// produced, preserving the cross-entity ordering guarantee; counters only
// move for committed work.
type eventBuffer struct {
	events   []bus.Event
	counters []func()
}

func (b *eventBuffer) add(events ...bus.Event) {
	b.events = append(b.events, events...)
}

// count defers a metric increment until the transaction commits.
func (b *eventBuffer) count(inc func()) {
	b.counters = append(b.counters, inc)
}

// lockForUpdate applies a SELECT ... FOR UPDATE clause. SQLite has no row
// locks and serializes writers at the connection level, so the clause is
// skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// wrapDB classifies a database error. Recognized unique-violation races are
// returned as-is for callers that recover from them.
func wrapDB(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fault.NotFound("%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return err
	case isLockTimeout(err):
		return fault.Locked("%s row lock timed out", what)
	default:
		var fe *fault.Error
		if errors.As(err, &fe) {
			return err
		}
		return fault.Internal(err, "%s query failed", what)
	}
}

// isLockTimeout recognizes the postgres lock_not_available SQLSTATE surfaced
// when a statement timeout fires while waiting on a row lock.
func isLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "55P03") || strings.Contains(msg, "lock not available")
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

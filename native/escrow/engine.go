package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"peerescrow/core/events"
	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
)

// State is the transactional view of the ledger an operation runs against.
// Reads observe the operation's own uncommitted writes.
type State interface {
	bank.Accounts
	GetRegistry(seller crypto.Identity) (*Registry, bool, error)
	PutRegistry(reg *Registry) error
	GetOrder(key OrderKey) (*Order, bool, error)
	PutOrder(order *Order) error
}

// Host runs operations atomically. Update holds write locks on every listed
// identity for the duration of fn and commits fn's writes only when it returns
// nil.
type Host interface {
	Update(ctx context.Context, locks []crypto.Identity, fn func(State) error) error
	View(ctx context.Context, fn func(State) error) error
}

// Metrics receives per-operation telemetry.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	AddSettled(asset, path string, amount uint64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) AddSettled(string, string, uint64)              {}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine implements the escrow lifecycle over a Host. It is safe for
// concurrent use; serialisation happens inside the host's record locks.
type Engine struct {
	host    Host
	emitter events.Emitter
	nowFn   func() int64
	params  Params
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewEngine creates an escrow engine over host with a no-op emitter and
// default parameters.
func NewEngine(host Host) *Engine {
	return &Engine{
		host:    host,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		params:  DefaultParams(),
		logger:  slog.Default(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer("peerescrow/escrow"),
	}
}

// SetParams overrides the economic parameters.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params
	return nil
}

// Params returns the active parameters.
func (e *Engine) Params() Params { return e.params }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics configures the telemetry sink. Nil disables metrics.
func (e *Engine) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	e.metrics = metrics
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

// settlement records value leaving order custody for metrics.
type settlement struct {
	asset  types.AssetRef
	path   string
	amount uint64
}

// outcome buffers the side effects of an operation until it commits.
type outcome struct {
	events  []*types.Event
	settled []settlement
}

func (o *outcome) emit(evt *types.Event) {
	o.events = append(o.events, evt)
}

func (o *outcome) settle(asset types.AssetRef, path string, amount uint64) {
	if amount == 0 {
		return
	}
	o.settled = append(o.settled, settlement{asset: asset, path: path, amount: amount})
}

// execute runs fn inside a locked host transaction. Events are only emitted
// after a successful commit.
func (e *Engine) execute(ctx context.Context, op string, locks []crypto.Identity, fn func(State, *outcome) error) error {
	if e == nil || e.host == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(attribute.Int("escrow.locks", len(locks))))
	defer span.End()

	started := time.Now()
	var out outcome
	err := e.host.Update(ctx, locks, func(st State) error {
		out = outcome{}
		return fn(st, &out)
	})
	result := "ok"
	if err != nil {
		class := Classify(err)
		result = class.String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelInfo
		if class == ClassInternal && !errors.Is(err, context.Canceled) {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "escrow operation rejected", "op", op, "class", result, "error", err)
	}
	e.metrics.ObserveOperation(op, result, time.Since(started))
	if err != nil {
		return err
	}
	for _, evt := range out.events {
		e.emit(evt)
	}
	for _, s := range out.settled {
		e.metrics.AddSettled(s.asset.String(), s.path, s.amount)
	}
	e.logger.Debug("escrow operation committed", "op", op, "events", len(out.events))
	return nil
}

// view runs a read-only function against committed state.
func (e *Engine) view(ctx context.Context, fn func(State) error) error {
	if e == nil || e.host == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.host.View(ctx, fn)
}

func loadRegistry(st State, seller crypto.Identity) (*Registry, error) {
	reg, ok, err := st.GetRegistry(seller)
	if err != nil {
		return nil, err
	}
	if !ok || !reg.Initialized {
		return nil, ErrRegistryNotInitialized
	}
	return reg, nil
}

// loadOpenOrder returns the order only while it is live.
func loadOpenOrder(st State, key OrderKey) (*Order, error) {
	order, ok, err := st.GetOrder(key)
	if err != nil {
		return nil, err
	}
	if !ok || !order.Exists || order.Status.Terminal() {
		return nil, ErrEscrowNotFound
	}
	return order, nil
}

// snapshot reads the registry and order committed before an operation so the
// engine can compute its lock set. Parties and registry fields are immutable,
// so the lock set stays valid even if the order closes in between; the
// operation re-reads both under lock.
func (e *Engine) snapshot(ctx context.Context, key OrderKey) (*Registry, *Order, error) {
	var (
		reg   *Registry
		order *Order
	)
	err := e.view(ctx, func(st State) error {
		var err error
		if order, err = loadOpenOrder(st, key); err != nil {
			return err
		}
		reg, err = loadRegistry(st, key.Seller)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return reg, order, nil
}

func orderLocks(reg *Registry, order *Order, extra ...crypto.Identity) []crypto.Identity {
	locks := []crypto.Identity{
		RegistryAddress(order.Seller),
		OrderAddress(order.Key()),
		order.Seller,
		order.Buyer,
	}
	if reg != nil {
		locks = append(locks, reg.FeeRecipient, reg.Arbitrator)
	}
	return append(locks, extra...)
}

func sanitizeKey(key OrderKey) (OrderKey, error) {
	id, err := SanitizeOrderID(key.ID)
	if err != nil {
		return OrderKey{}, err
	}
	key.ID = id
	return key, nil
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/healthgate/internal/circuitbreaker"
	"github.com/aman-churiwal/healthgate/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBackendTimeout = 250 * time.Millisecond

	warnInterval = 10 * time.Second
)

var errBackendPanic = errors.New("rate limit backend panicked")

// Outcome of a rate limit decision
type Outcome int

const (
	Allowed Outcome = iota
	Blocked
	// Degraded means the backend failed and the request was let through
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Decision struct {
	Category Category
	Identity string
	Outcome  Outcome
	Result   Result
	Err      error // set only when Degraded
}

func (d Decision) Admitted() bool {
	return d.Outcome != Blocked
}

// Event is reported for every Blocked or Degraded decision made by Check.
type Event struct {
	Time       time.Time
	Category   Category
	Identity   string
	Outcome    Outcome
	Method     string
	Path       string
	RequestID  string
	Limit      int
	RetryAfter int64
	Err        string
}

type EventRecorder interface {
	Record(Event)
}

type Options struct {
	Registry       Registry
	Store          *Store
	Redis          *storage.RedisClient
	Algorithm      string
	HashKeys       bool
	BackendTimeout time.Duration
	Breaker        *circuitbreaker.CircuitBreaker
	Logger         *zap.Logger
	Recorder       EventRecorder
	Clock          Clock
}

// Facade is the single entry point protected routes call. It owns one
// limiter per category, built once, and never lets a backend failure reach
// the caller.
type Facade struct {
	registry    Registry
	limiters    [categoryCount]Limiter
	store       *Store
	distributed bool
	breaker     *circuitbreaker.CircuitBreaker
	timeout     time.Duration
	logger      *zap.Logger
	warn        *rate.Sometimes
	recorder    EventRecorder
	now         Clock
}

func New(opts Options) (*Facade, error) {
	if opts.Registry == (Registry{}) {
		opts.Registry = DefaultRegistry()
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = DefaultBackendTimeout
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}

	f := &Facade{
		registry: opts.Registry,
		store:    opts.Store,
		timeout:  opts.BackendTimeout,
		logger:   opts.Logger.Named("ratelimit"),
		warn:     &rate.Sometimes{First: 1, Interval: warnInterval},
		recorder: opts.Recorder,
		now:      opts.Clock,
	}

	keyFn := PlainKey
	if opts.HashKeys {
		keyFn = HashedKey
	}
	backend := Backend{
		Redis:     opts.Redis,
		Store:     opts.Store,
		Algorithm: opts.Algorithm,
		Key:       keyFn,
		Clock:     opts.Clock,
	}
	f.distributed = backend.Distributed()

	if f.distributed {
		f.breaker = opts.Breaker
		if f.breaker == nil {
			f.breaker = circuitbreaker.New(circuitbreaker.Config{
				Name:          "redis",
				OnStateChange: f.logBreakerChange,
			})
		}
	}

	for _, c := range Categories() {
		f.limiters[c] = NewLimiter(backend, opts.Registry.Lookup(c))
	}

	f.logger.Debug("rate limiter ready",
		zap.Bool("distributed", f.distributed),
		zap.String("algorithm", opts.Algorithm),
		zap.Duration("backend_timeout", f.timeout),
	)

	return f, nil
}

// Check resolves the caller, applies the category's quota and returns nil
// when the request may proceed, or a ready 429 otherwise.
func (f *Facade) Check(ctx context.Context, r *http.Request, c Category, identifier string) *Response {
	identity := ResolveIdentity(r, identifier)
	d := f.Decide(ctx, c, identity)
	now := f.now()

	f.record(r, d, now)
	if d.Outcome != Blocked {
		return nil
	}
	return NewResponse(d.Result, now)
}

// Record reports a decision made through Decide to the event recorder.
// Allowed decisions are ignored.
func (f *Facade) Record(r *http.Request, d Decision) {
	f.record(r, d, f.now())
}

// Decide applies the quota for c to identity.
func (f *Facade) Decide(ctx context.Context, c Category, identity string) Decision {
	d := Decision{Category: c, Identity: identity}
	if c < 0 || c >= categoryCount {
		d.Outcome = Degraded
		d.Err = fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
		d.Result = Result{Success: true}
		return d
	}

	res, err := f.invoke(ctx, f.limiters[c], identity)
	if err != nil {
		cfg := f.registry.Lookup(c)
		d.Outcome = Degraded
		d.Err = err
		d.Result = Result{
			Success:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			Reset:     ceilSeconds(f.now().Add(cfg.Window).UnixMilli()),
		}
		f.warn.Do(func() {
			f.logger.Warn("rate limit backend failed, allowing request",
				zap.String("category", c.String()),
				zap.Bool("distributed", f.distributed),
				zap.Error(err),
			)
		})
		return d
	}

	d.Result = res
	if res.Success {
		d.Outcome = Allowed
	} else {
		d.Outcome = Blocked
	}
	return d
}

func (f *Facade) invoke(ctx context.Context, l Limiter, identity string) (Result, error) {
	var res Result

	if !f.distributed {
		err := safeCall(func() (err error) {
			res, err = l.Limit(ctx, identity)
			return err
		})
		return res, err
	}

	// Detached from caller cancellation: a client hanging up is not a
	// backend failure. Only the backend timeout bounds the call.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	err := f.breaker.Execute(func() error {
		return safeCall(func() (err error) {
			res, err = l.Limit(callCtx, identity)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Turns a panic inside fn into an error
func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errBackendPanic, p)
		}
	}()
	return fn()
}

func (f *Facade) record(r *http.Request, d Decision, now time.Time) {
	if f.recorder == nil || d.Outcome == Allowed {
		return
	}

	ev := Event{
		Time:       now,
		Category:   d.Category,
		Identity:   d.Identity,
		Outcome:    d.Outcome,
		Limit:      d.Result.Limit,
		RetryAfter: RetryAfter(d.Result, now),
	}
	if d.Outcome == Degraded {
		ev.RetryAfter = 0
	}
	if d.Err != nil {
		ev.Err = d.Err.Error()
	}
	if r != nil {
		ev.Method = r.Method
		ev.Path = r.URL.Path
		ev.RequestID = r.Header.Get("X-Request-ID")
	}

	f.recorder.Record(ev)
}

func (f *Facade) logBreakerChange(name string, from, to circuitbreaker.State) {
	f.logger.Warn("rate limit backend circuit changed state",
		zap.String("breaker", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Limiter returns the bound limiter for call sites that build headers
// themselves. It does not fail open, and is nil for an unknown category.
func (f *Facade) Limiter(c Category) Limiter {
	if c < 0 || c >= categoryCount {
		return nil
	}
	return f.limiters[c]
}

func (f *Facade) Registry() Registry {
	return f.registry
}

func (f *Facade) Distributed() bool {
	return f.distributed
}

func (f *Facade) Store() *Store {
	return f.store
}

// Breaker is nil when counters are in memory.
func (f *Facade) Breaker() *circuitbreaker.CircuitBreaker {
	return f.breaker
}

func (f *Facade) Now() time.Time {
	return f.now()
}

// Package dispatch delivers alert notices to contacts and emergency
// services. Deliveries run in the background with a process-wide cap on
// in-flight sends, a per-attempt timeout and exponential backoff between
// attempts. Outcomes are written back to the alert store; they are never
// reported to the operation that scheduled them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

// Sender delivers a message to one contact (SMS, push, voice).
type Sender interface {
	Send(ctx context.Context, to alert.Contact, msg Message) error
}

// EmergencyNotifier alerts the emergency desk about a critical alert.
type EmergencyNotifier interface {
	NotifyEmergency(ctx context.Context, a *alert.Alert, kind alert.NoticeKind) error
}

// DeliveryStore records per-contact delivery outcomes.
type DeliveryStore interface {
	SetDelivery(ctx context.Context, id string, index int, status alert.DeliveryStatus, at time.Time, attempts int) error
}

// Config tunes delivery. Zero fields take the defaults from DefaultConfig.
type Config struct {
	MaxConcurrency int64
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultConfig returns the production delivery settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEmergencyNotifier sets the emergency-service channel. Without one,
// emergency notices are logged and dropped.
func WithEmergencyNotifier(n EmergencyNotifier) Option {
	return func(d *Dispatcher) { d.emergency = n }
}

var errSuperseded = errors.New("superseded by a newer notice")

type runKey struct {
	alertID string
	index   int
}

// contactRun tracks the latest delivery scheduled for one contact. Only the
// run holding the current generation may write delivery status.
type contactRun struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelCauseFunc
}

// Dispatcher implements alert.Notifier.
type Dispatcher struct {
	store     DeliveryStore
	sender    Sender
	emergency EmergencyNotifier
	logger    log.Logger
	metrics   *Metrics
	cfg       Config
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	now       func() time.Time

	mu   sync.Mutex
	runs map[runKey]*contactRun
	seq  uint64
}

var _ alert.Notifier = (*Dispatcher)(nil)

// New creates a Dispatcher.
func New(store DeliveryStore, sender Sender, logger log.Logger, cfg Config, opts ...Option) *Dispatcher {
	if store == nil {
		panic(xerrors.New("delivery store is required"))
	}
	if sender == nil {
		panic(xerrors.New("sender is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		store:  store,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		now:    time.Now,
		runs:   make(map[runKey]*contactRun),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyContacts schedules one delivery per index and returns immediately.
// A delivery still retrying for the same contact is cancelled and no longer
// writes its outcome.
func (d *Dispatcher) NotifyContacts(ctx context.Context, a *alert.Alert, indexes []int, kind alert.NoticeKind) {
	msg := Compose(a, kind)
	for _, i := range indexes {
		if i < 0 || i >= len(a.NotifiedContacts) {
			d.logger.Warn(ctx, "skipping unknown contact index", "alert_id", a.ID, "index", i)
			continue
		}
		c := a.NotifiedContacts[i]
		key := runKey{alertID: a.ID, index: i}
		rctx, run, gen := d.claim(ctx, key)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.release(key, run, gen)
			d.deliver(rctx, ctx, run, gen, key, c, msg)
		}()
	}
}

// claim makes a new generation current for key and cancels the one it
// replaces.
func (d *Dispatcher) claim(ctx context.Context, key runKey) (context.Context, *contactRun, uint64) {
	rctx, cancel := context.WithCancelCause(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	run := d.runs[key]
	if run == nil {
		run = &contactRun{}
		d.runs[key] = run
	}
	run.mu.Lock()
	if run.cancel != nil {
		run.cancel(errSuperseded)
	}
	run.gen = d.seq
	run.cancel = cancel
	run.mu.Unlock()
	return rctx, run, d.seq
}

func (d *Dispatcher) release(key runKey, run *contactRun, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.gen != gen {
		return
	}
	run.cancel(nil)
	if d.runs[key] == run {
		delete(d.runs, key)
	}
}

// NotifyEmergencyServices schedules an emergency-desk notice and returns
// immediately.
func (d *Dispatcher) NotifyEmergencyServices(ctx context.Context, a *alert.Alert, kind alert.NoticeKind) {
	if d.emergency == nil {
		d.logger.Warn(ctx, "no emergency notifier configured, dropping notice", "alert_id", a.ID, "kind", kind)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.escalate(ctx, a, kind)
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight deliveries or until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: waiting for deliveries: %w", ctx.Err())
	}
}

// deliver sends msg under rctx, which is cancelled when a newer notice for
// the same contact is scheduled. Outcomes are written with ctx.
func (d *Dispatcher) deliver(rctx, ctx context.Context, run *contactRun, gen uint64, key runKey, c alert.Contact, msg Message) {
	L := d.logger.With("alert_id", key.alertID, "contact_index", key.index, "kind", msg.Kind)

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := d.attempt(rctx, func(actx context.Context) error {
			return d.sender.Send(actx, c, msg)
		})
		if err != nil {
			d.record(ctx, L, run, gen, key, alert.DeliveryFailed, attempts)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(rctx, op, d.retryOptions(rctx, L)...)
	if errors.Is(context.Cause(rctx), errSuperseded) {
		L.Info(ctx, "contact notification superseded by a newer notice", "attempts", attempts)
		d.observe(msg.Kind, "superseded")
		return
	}
	if err != nil {
		L.Error(ctx, err, "contact notification failed", "attempts", attempts)
		d.observe(msg.Kind, "failed")
		return
	}
	d.record(ctx, L, run, gen, key, alert.DeliverySent, attempts)
	d.observe(msg.Kind, "sent")
}

func (d *Dispatcher) escalate(ctx context.Context, a *alert.Alert, kind alert.NoticeKind) {
	L := d.logger.With("alert_id", a.ID, "kind", kind)

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		return struct{}{}, d.attempt(ctx, func(actx context.Context) error {
			return d.emergency.NotifyEmergency(actx, a, kind)
		})
	}

	_, err := backoff.Retry(ctx, op, d.retryOptions(ctx, L)...)
	result := "sent"
	if err != nil {
		result = "failed"
		L.Error(ctx, err, "emergency notification failed", "attempts", attempts)
	} else {
		L.Info(ctx, "emergency services notified", "attempts", attempts)
	}
	if d.metrics != nil {
		d.metrics.EmergencyTotal.WithLabelValues(string(kind), result).Inc()
	}
}

// attempt runs one send under the concurrency cap with its own timeout.
func (d *Dispatcher) attempt(ctx context.Context, send func(context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return backoff.Permanent(err)
	}
	defer d.sem.Release(1)

	if d.metrics != nil {
		d.metrics.InFlight.Inc()
		defer d.metrics.InFlight.Dec()
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	err := send(actx)
	if d.metrics != nil {
		d.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("attempt timed out after %s: %w", d.cfg.AttemptTimeout, err)
	}
	return err
}

func (d *Dispatcher) retryOptions(ctx context.Context, L log.Logger) []backoff.RetryOption {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          d.cfg.Multiplier,
		MaxInterval:         d.cfg.MaxDelay,
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries) + 1), //nolint:gosec // MaxRetries is clamped to >= 0
		backoff.WithNotify(func(err error, next time.Duration) {
			if d.metrics != nil {
				d.metrics.RetriesTotal.Inc()
			}
			L.Warn(ctx, "notification attempt failed, retrying", "err", err, "retry_in", next)
		}),
	}
}

// record writes the outcome while gen is still current for the contact.
func (d *Dispatcher) record(ctx context.Context, L log.Logger, run *contactRun, gen uint64, key runKey, status alert.DeliveryStatus, attempts int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.gen != gen {
		return
	}
	if err := d.store.SetDelivery(ctx, key.alertID, key.index, status, d.now().UTC(), attempts); err != nil {
		L.Error(ctx, err, "failed to record delivery status", "status", status)
	}
}

func (d *Dispatcher) observe(kind alert.NoticeKind, result string) {
	if d.metrics != nil {
		d.metrics.SendsTotal.WithLabelValues(string(kind), result).Inc()
	}
}

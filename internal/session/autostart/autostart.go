// Package autostart starts the session automatically, recovering from two
// distinct failure classes with two distinct strategies: missing internet is
// re-probed on a cheap fixed interval, while rejected or failed connections
// back off exponentially against a bounded retry budget.
package autostart

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lenslabs/chordfield/internal/platform/timeouts"
	"github.com/lenslabs/chordfield/internal/realtime"
)

// AlertCategory names a persistent user-visible alert surface.
type AlertCategory string

// AlertCategoryConnectionFailed is raised when the retry budget is exhausted
// and cleared on the next successful connection.
const AlertCategoryConnectionFailed AlertCategory = "connection-failed"

// AlertFunc shows or hides a persistent alert. The alert surface itself is
// external; the controller only decides when to raise or clear it.
type AlertFunc func(category AlertCategory, visible bool)

// Starter is the session start operation wrapped by the controller. It is
// implemented by the session readiness controller.
type Starter interface {
	Start(ctx context.Context) error
}

// Controller retries session start with backoff.
type Controller struct {
	service realtime.Service
	starter Starter
	alert   AlertFunc
	logger  *log.Logger

	probeInterval time.Duration
	maxAttempts   int
	afterFunc     func(d time.Duration, fn func()) *time.Timer

	mu         sync.Mutex
	ctx        context.Context
	bo         *backoff.ExponentialBackOff
	attempts   int
	failed     bool
	probeTimer *time.Timer
	retryTimer *time.Timer
}

// Options configure optional collaborators.
type Options struct {
	Alert  AlertFunc
	Logger *log.Logger
}

// New constructs a controller around a session starter.
func New(service realtime.Service, starter Starter, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	alert := opts.Alert
	if alert == nil {
		alert = func(AlertCategory, bool) {}
	}
	return &Controller{
		service:       service,
		starter:       starter,
		alert:         alert,
		logger:        logger,
		probeInterval: timeouts.ConnectivityProbe,
		maxAttempts:   timeouts.RetryMaxAttempts,
		afterFunc:     time.AfterFunc,
		bo:            newBackOff(),
	}
}

// newBackOff returns the connection retry schedule: 5s doubling to a 30s cap
// with randomization disabled so the schedule is deterministic.
func newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     timeouts.RetryInitial,
		RandomizationFactor: 0,
		Multiplier:          timeouts.RetryMultiplier,
		MaxInterval:         timeouts.RetryMax,
	}
}

// Start begins the auto-start loop. The context bounds every subsequent
// attempt, including ones scheduled by timers.
func (a *Controller) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.attempt()
}

// Restart re-enters the start loop after a disconnect. Retry state was
// already cleared by the preceding success.
func (a *Controller) Restart(reason string) {
	a.logger.Printf("restarting session after disconnect: %s", reason)
	a.attempt()
}

// Failed reports whether the retry budget is exhausted. A failed controller
// stays failed until a later manual Start succeeds.
func (a *Controller) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

func (a *Controller) attempt() {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	if !a.service.Reachable() {
		// Cheap local check; waiting for internet never consumes the retry
		// budget.
		a.scheduleProbe()
		return
	}

	err := a.starter.Start(ctx)
	if err == nil {
		a.onSuccess()
		return
	}

	switch code := realtime.ErrorCode(err); code {
	case realtime.CodeCancelledByUser:
		a.logger.Printf("session start cancelled by user")
	case realtime.CodeNoInternet:
		a.scheduleProbe()
	default:
		a.onConnectionFailure(code, err)
	}
}

func (a *Controller) onConnectionFailure(code realtime.Code, err error) {
	a.mu.Lock()
	a.attempts++
	if a.attempts > a.maxAttempts {
		a.failed = true
		a.mu.Unlock()
		a.logger.Printf("session start failed permanently after %d attempts: %v", a.maxAttempts, err)
		a.alert(AlertCategoryConnectionFailed, true)
		return
	}
	delay := a.bo.NextBackOff()
	if a.retryTimer != nil {
		a.retryTimer.Stop()
	}
	a.retryTimer = a.afterFunc(delay, a.attempt)
	attempt := a.attempts
	a.mu.Unlock()
	a.logger.Printf("session start failed (%s, attempt %d): retrying in %s", code, attempt, delay)
}

func (a *Controller) scheduleProbe() {
	a.mu.Lock()
	if a.probeTimer != nil {
		a.probeTimer.Stop()
	}
	a.probeTimer = a.afterFunc(a.probeInterval, a.attempt)
	a.mu.Unlock()
}

// onSuccess clears every piece of retry state: counters, schedule, pending
// timers, and the persistent alert.
func (a *Controller) onSuccess() {
	a.mu.Lock()
	a.attempts = 0
	a.failed = false
	a.bo = newBackOff()
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	if a.probeTimer != nil {
		a.probeTimer.Stop()
		a.probeTimer = nil
	}
	a.mu.Unlock()
	a.alert(AlertCategoryConnectionFailed, false)
}

package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/yclin-dev/medremind/pkg/logger"
	"github.com/yclin-dev/medremind/pkg/store"
)

const (
	sendTimeout = 10 * time.Second

	notifyTemplate = "⏰ 用藥提醒：該服用「%s」囉！"
)

// Notifier delivers one reminder notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// NotifyFunc adapts a function to the Notifier interface.
type NotifyFunc func(ctx context.Context, userID, text string) error

func (f NotifyFunc) Notify(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// Dispatcher periodically scans reminders and notifies every slot whose
// time-of-day matches the current minute in the configured timezone.
// The delivery ledger guarantees at most one notification per
// (reminder, date, time) slot.
type Dispatcher struct {
	store    store.Store
	notifier Notifier
	interval time.Duration
	loc      *time.Location
	gron     *gronx.Gronx

	// now is replaceable in tests.
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewDispatcher(st store.Store, notifier Notifier, interval time.Duration, loc *time.Location) *Dispatcher {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		store:    st,
		notifier: notifier,
		interval: interval,
		loc:      loc,
		gron:     gronx.New(),
		now:      time.Now,
	}
}

// Start launches the tick loop. It runs until Stop or process shutdown.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go d.run(ctx)

	logger.InfoCF("dispatch", "Dispatcher started", map[string]interface{}{
		"interval": d.interval.String(),
		"timezone": d.loc.String(),
	})
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	logger.InfoC("dispatch", "Dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunTick(ctx); err != nil {
				// Store unavailable: abandon this tick, the next
				// one starts fresh.
				logger.ErrorCF("dispatch", "Tick abandoned", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// RunTick performs one scan-and-notify pass. It returns an error only
// when the reminder list itself cannot be loaded; per-reminder failures
// are logged and isolated.
func (d *Dispatcher) RunTick(ctx context.Context) error {
	now := d.now().In(d.loc)
	today := now.Format("2006-01-02")

	reminders, err := d.store.ListReminders(ctx)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}

	for _, rem := range reminders {
		if !rem.ActiveOn(today) {
			continue
		}
		for _, slot := range rem.Times {
			d.dispatchSlot(ctx, rem, today, slot, now)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchSlot(ctx context.Context, rem store.Reminder, today, slot string, now time.Time) {
	due, err := d.slotDue(slot, now)
	if err != nil {
		logger.WarnCF("dispatch", "Skipping malformed slot", map[string]interface{}{
			"reminder_id": rem.ID,
			"slot":        slot,
		})
		return
	}
	if !due {
		return
	}

	claimed, err := d.store.ClaimSlot(ctx, rem.ID, today, slot)
	if err != nil {
		logger.ErrorCF("dispatch", "Claim failed", map[string]interface{}{
			"reminder_id": rem.ID,
			"slot":        slot,
			"error":       err.Error(),
		})
		return
	}
	if !claimed {
		// Already delivered for this slot today.
		return
	}

	traceID := uuid.NewString()
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err = d.notifier.Notify(sendCtx, rem.UserID, fmt.Sprintf(notifyTemplate, rem.Medicine))
	cancel()

	if err != nil {
		logger.ErrorCF("dispatch", "Delivery failed", map[string]interface{}{
			"reminder_id": rem.ID,
			"user_id":     rem.UserID,
			"slot":        slot,
			"trace_id":    traceID,
			"error":       err.Error(),
		})
		// Give the slot back so a later tick in the same minute can
		// retry. If this also fails the slot stays claimed, which
		// errs on the side of not duplicating.
		if relErr := d.store.ReleaseSlot(ctx, rem.ID, today, slot); relErr != nil {
			logger.ErrorCF("dispatch", "Release after failed delivery also failed", map[string]interface{}{
				"reminder_id": rem.ID,
				"slot":        slot,
				"error":       relErr.Error(),
			})
		}
		return
	}

	logger.InfoCF("dispatch", "Reminder delivered", map[string]interface{}{
		"reminder_id": rem.ID,
		"user_id":     rem.UserID,
		"medicine":    rem.Medicine,
		"slot":        slot,
		"trace_id":    traceID,
	})
}

// slotDue reports whether an HH:MM slot matches the current minute by
// evaluating it as a daily cron expression.
func (d *Dispatcher) slotDue(slot string, now time.Time) (bool, error) {
	parts := strings.SplitN(slot, ":", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed slot %q", slot)
	}
	expr := fmt.Sprintf("%s %s * * *", parts[1], parts[0])
	due, err := d.gron.IsDue(expr, now)
	if err != nil {
		return false, fmt.Errorf("evaluate slot %q: %w", slot, err)
	}
	return due, nil
}

package adaptive

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
	"github.com/spendmonitor/alertengine/pkg/orchestration/dependency"
)

// Config sizes the evaluation and dispatch worker pools and bounds
// shutdown drain time. Zero EvalWorkers and DispatchWorkers fall back
// to 4x the CPU count and a zero DrainTimeout to 30s; EvalQueueMax is
// used as given.
type Config struct {
	EvalWorkers     int
	DispatchWorkers int
	EvalQueueMax    int64
	DrainTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.EvalWorkers <= 0 {
		c.EvalWorkers = runtime.NumCPU() * 4
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = runtime.NumCPU() * 4
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator is the ingestion boundary (C7). Ingest persists a
// transaction and schedules its evaluation; Run drives the evaluation
// and dispatch worker pools until its context is cancelled.
type Orchestrator struct {
	cfg Config

	transactions  TransactionStore
	evaluator     RuleEvaluator
	notifications NotificationStore
	channels      map[domain.Channel]delivery.Service
	breakers      map[domain.Channel]*dependency.CircuitBreaker

	evalQueue     *FairQueue
	dispatchQueue *FairQueue

	log *logrus.Logger
}

// New wires an Orchestrator. channels maps each notification channel
// to the delivery.Service that sends it; breakers, if non-nil, wraps
// each channel's Deliver call so a channel whose downstream (SMTP
// relay, webhook endpoint) is failing trips independently of the
// others instead of stalling every dispatch worker behind it.
func New(
	cfg Config,
	transactions TransactionStore,
	ruleEvaluator RuleEvaluator,
	notifications NotificationStore,
	channels map[domain.Channel]delivery.Service,
	breakers map[domain.Channel]*dependency.CircuitBreaker,
	evalQueue, dispatchQueue *FairQueue,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg.withDefaults(),
		transactions:  transactions,
		evaluator:     ruleEvaluator,
		notifications: notifications,
		channels:      channels,
		breakers:      breakers,
		evalQueue:     evalQueue,
		dispatchQueue: dispatchQueue,
		log:           log,
	}
}

// Ingest persists txn and schedules its evaluation, returning
// ErrRateLimited when the evaluation queue is already at its depth
// bound.
func (o *Orchestrator) Ingest(ctx context.Context, txn *domain.Transaction) error {
	if err := o.transactions.InsertTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to persist transaction: %w", err)
	}
	if err := o.evalQueue.Push(ctx, txn.UserID, txn.ID); err != nil {
		return err
	}
	return nil
}

// Run drives both worker pools until ctx is cancelled, then blocks
// until each has drained (or its drain timeout elapsed).
func (o *Orchestrator) Run(ctx context.Context) {
	evalPool := NewWorkerPool(o.evalQueue, o.cfg.EvalWorkers, 20*time.Millisecond, o.runEvaluation)
	dispatchPool := NewWorkerPool(o.dispatchQueue, o.cfg.DispatchWorkers, 20*time.Millisecond, o.runDispatch)

	done := make(chan struct{}, 2)
	go func() { evalPool.Run(ctx, o.cfg.DrainTimeout); done <- struct{}{} }()
	go func() { dispatchPool.Run(ctx, o.cfg.DrainTimeout); done <- struct{}{} }()
	<-done
	<-done
}

func (o *Orchestrator) runEvaluation(ctx context.Context, task Task) {
	outcome, err := o.evaluator.Evaluate(ctx, task.Payload)
	if err != nil {
		o.log.WithError(err).WithField("transaction_id", task.Payload).Error("evaluation failed")
		return
	}

	for _, n := range outcome.Notifications {
		if err := o.dispatchQueue.Push(ctx, n.UserID, n.ID); err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"notification_id": n.ID,
				"user_id":         n.UserID,
			}).Error("failed to schedule dispatch")
		}
	}
}

func (o *Orchestrator) runDispatch(ctx context.Context, task Task) {
	notification, err := o.notifications.GetByID(ctx, task.Payload)
	if err != nil {
		o.log.WithError(err).WithField("notification_id", task.Payload).Error("failed to load notification for dispatch")
		return
	}

	service, ok := o.channels[notification.Channel]
	if !ok {
		o.markFailed(ctx, notification, fmt.Errorf("no delivery service configured for channel %q", notification.Channel))
		return
	}

	deliverErr := o.deliver(ctx, notification, service)
	if deliverErr != nil {
		o.markFailed(ctx, notification, deliverErr)
		return
	}

	if err := o.notifications.AdvanceStatus(ctx, notification.ID, domain.NotificationSent); err != nil {
		o.log.WithError(err).WithField("notification_id", notification.ID).Error("failed to record successful delivery")
	}
}

func (o *Orchestrator) deliver(ctx context.Context, n *domain.AlertNotification, service delivery.Service) error {
	breaker, ok := o.breakers[n.Channel]
	if !ok || breaker == nil {
		return service.Deliver(ctx, n)
	}
	return breaker.Call(func() error { return service.Deliver(ctx, n) })
}

func (o *Orchestrator) markFailed(ctx context.Context, n *domain.AlertNotification, deliveryErr error) {
	o.log.WithError(deliveryErr).WithFields(logrus.Fields{
		"notification_id": n.ID,
		"channel":         n.Channel,
	}).Warn("notification delivery failed")
	if err := o.notifications.AdvanceStatus(ctx, n.ID, domain.NotificationFailed); err != nil {
		o.log.WithError(err).WithField("notification_id", n.ID).Error("failed to record failed delivery")
	}
}

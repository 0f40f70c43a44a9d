// Package worker provides async transaction processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes ingested transactions from the event bus and runs them
// through the decisioning pipeline. The pipeline publishes the decision,
// alert and filing events itself; the worker only feeds it.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, pipe *pipeline.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipe,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage decodes an ingested transaction and evaluates it. A payload
// that does not parse is logged and dropped; redelivery cannot fix it.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var f domain.FactSet
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		slog.Error("failed to parse ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if f.TxnID == "" {
		f.TxnID = msg.ID
	}

	assessment := w.pipeline.Evaluate(ctx, &f)

	slog.Info("transaction processed",
		"txn_id", f.TxnID,
		"decision", assessment.Compliance.Decision.String(),
		"score", assessment.Score.FinalScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats holds worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

// Package worker processes calculation requests delivered over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/domain"
)

// Worker runs calculations requested on domain.TopicCalculationRequested.
// When a request carries a reply topic the outcome is sent back to it.
type Worker struct {
	bus  domain.EventBus
	calc *calculation.Calculator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Reply is the payload sent back to a requester.
type Reply struct {
	Result *domain.CalculationResponse `json:"result,omitempty"`
	Error  string                      `json:"error,omitempty"`
	Fields []calculation.FieldError    `json:"fields,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, calc *calculation.Calculator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		calc:   calc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to calculation requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCalculationRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicCalculationRequested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req calculation.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse calculation request",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, &Reply{Error: "malformed request: " + err.Error()})
		return err
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	slog.Debug("processing calculation request",
		"message_id", msg.ID,
		"trace_id", req.TraceID,
		"models", len(req.Models),
	)

	calc, err := w.calc.Calculate(ctx, &req)
	if err != nil {
		out := &Reply{Error: err.Error()}
		var inputErr *calculation.InputError
		if errors.As(err, &inputErr) {
			out.Fields = inputErr.Fields
		}
		w.reply(ctx, msg, out)

		slog.Warn("calculation request failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.reply(ctx, msg, &Reply{Result: calc.ToResponse()})

	slog.Info("calculation request processed",
		"message_id", msg.ID,
		"calculation_id", calc.ID,
		"status", calc.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// reply answers msg when the sender is waiting for one.
func (w *Worker) reply(ctx context.Context, msg *domain.Message, out *Reply) {
	if msg.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Reply(ctx, msg, payload); err != nil {
		slog.Error("failed to send reply",
			"message_id", msg.ID,
			"reply_to", msg.ReplyTo,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
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

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

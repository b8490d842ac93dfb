// Package worker provides async rating from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker rates quote requests published on the bus. Producers publish a
// RatingMessage on the rating.requested topic; the worker calculates and
// publishes the result (or failure) back, keyed by the request ID.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async rating worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the rating request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRatingRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("rating worker started",
		"topic", domain.TopicRatingRequested,
	)
	return nil
}

// RatingMessage is the payload of an async rating request.
type RatingMessage struct {
	RequestID string               `json:"requestId"`
	Request   domain.RatingRequest `json:"request"`
}

// RatingResult is published after an async rating attempt.
type RatingResult struct {
	RequestID   string                     `json:"requestId"`
	Calculation *domain.PremiumCalculation `json:"calculation,omitempty"`
	Error       string                     `json:"error,omitempty"`
	ErrorKind   domain.ErrorKind           `json:"errorKind,omitempty"`
	DurationMs  int64                      `json:"durationMs"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var req RatingMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse rating message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	slog.Debug("processing rating request",
		"request_id", requestID,
		"jurisdiction", req.Request.Jurisdiction,
		"product", req.Request.ProductType,
	)

	calc, err := w.engine.Calculate(ctx, &req.Request)

	result := RatingResult{
		RequestID:   requestID,
		Calculation: calc,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	topic := domain.TopicCalculationCompleted
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = domain.KindOf(err)
		topic = domain.TopicCalculationFailed
	}

	payload, _ := json.Marshal(result)
	if perr := w.bus.Publish(ctx, topic, payload); perr != nil {
		slog.Error("failed to publish rating result",
			"request_id", requestID,
			"error", perr,
		)
	}

	if err != nil {
		slog.Warn("async rating failed",
			"request_id", requestID,
			"kind", result.ErrorKind,
			"error", err,
		)
		return err
	}

	slog.Info("rating request processed",
		"request_id", requestID,
		"calculation_id", calc.ID,
		"total", calc.TotalPremium,
		"duration_ms", result.DurationMs,
	)
	return nil
}

// Stop gracefully stops the worker.
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

	w.wg.Wait()

	slog.Info("rating worker stopped")
	return nil
}

// Stats returns worker statistics.
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

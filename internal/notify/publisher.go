// Package notify emits job completion events over RabbitMQ. Like the
// ledger, it is optional; a nil *Publisher drops events silently.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/reqhub/jobwatch/shared/rabbitmq"
)

// Event describes one job reaching a terminal status.
type Event struct {
	Family      string    `json:"family"`
	JobID       string    `json:"jobId"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
}

// Publisher sends completion events to the configured exchange.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// New creates a Publisher on top of an established RabbitMQ client.
func New(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// JobCompleted publishes one completion event.
func (p *Publisher) JobCompleted(ctx context.Context, family, jobID, status string) error {
	if p == nil {
		return nil
	}

	event := Event{
		Family:      family,
		JobID:       jobID,
		Status:      status,
		CompletedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish completion event",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return err
	}

	p.logger.Info("Completion event published",
		slog.String("family", family),
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

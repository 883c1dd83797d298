// Package ocr is the client for the OCR task family: multipart
// submission against POST /api/ocr and adaptive status polling against
// GET /api/ocr.
package ocr

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/reqhub/jobwatch/internal/state"
	"github.com/reqhub/jobwatch/internal/transport"
	"github.com/reqhub/jobwatch/internal/watch"
)

const errLabel = "OCR pipeline initiation failed"

// Config configures the OCR task client.
type Config struct {
	Transport *transport.Client
	// PollInterval is the refetch delay while a task reports STARTING
	// or PROCESSING. Defaults to 2s.
	PollInterval time.Duration
	// FetchTimeout bounds one status fetch; 0 leaves the transport
	// default.
	FetchTimeout time.Duration
	// Tracker aggregates submission loading/error state, shared with
	// the other submission paths. Optional.
	Tracker *state.Tracker
	Logger  *slog.Logger
}

// Client submits OCR tasks and watches their status.
type Client struct {
	tc           *transport.Client
	engine       *watch.Engine[TaskStatus]
	tracker      *state.Tracker
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates an OCR task client with its own polling namespace.
func NewClient(cfg Config) *Client {
	c := &Client{
		tc:           cfg.Transport,
		tracker:      cfg.Tracker,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}
	if c.tracker == nil {
		c.tracker = &state.Tracker{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}

	c.engine = watch.NewEngine(watch.Config[TaskStatus]{
		Namespace:    "ocr",
		Fetch:        c.FetchStatus,
		Interval:     c.nextPoll,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       c.logger,
	})

	return c
}

// StartTask submits the given files for OCR extraction in one request
// and returns the created task ids, one per unit of work the backend
// decided on. Identical submissions always create new tasks; nothing is
// deduplicated.
func (c *Client) StartTask(ctx context.Context, files []transport.File) ([]string, error) {
	done := c.tracker.Begin()

	var res struct {
		TaskIDs []string `json:"taskIds"`
	}
	if err := c.tc.PostMultipart(ctx, "/api/ocr", "files", files, &res); err != nil {
		err = transport.WrapSubmit(errLabel, err)
		c.logger.Error("OCR task submission failed",
			slog.Int("file_count", len(files)),
			slog.Any("error", err),
		)
		done(err)
		return nil, err
	}

	done(nil)
	c.logger.Info("OCR task started",
		slog.Int("file_count", len(files)),
		slog.Int("task_count", len(res.TaskIDs)),
	)

	return res.TaskIDs, nil
}

// FetchStatus performs one status fetch for a task id.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var ts TaskStatus
	query := url.Values{"taskId": {taskID}}
	if err := c.tc.GetJSON(ctx, "/api/ocr", query, &ts); err != nil {
		return TaskStatus{}, err
	}
	return ts, nil
}

// Watch returns a live polling handle for one task id.
func (c *Client) Watch(taskID string, opts ...watch.SubscribeOption) *watch.Handle[TaskStatus] {
	return c.engine.Subscribe(taskID, opts...)
}

// WatchAll returns one handle per task id, preserving input order.
func (c *Client) WatchAll(taskIDs []string, opts ...watch.SubscribeOption) []*watch.Handle[TaskStatus] {
	return c.engine.SubscribeAll(taskIDs, opts...)
}

// ClearCache invalidates the cache entries for the given task ids, or
// every entry in the OCR namespace when called with none.
func (c *Client) ClearCache(taskIDs ...string) {
	if len(taskIDs) == 0 {
		c.engine.InvalidateAll()
		return
	}
	for _, id := range taskIDs {
		c.engine.Invalidate(id)
	}
}

// Loading reports whether any submission on the shared tracker is in
// flight.
func (c *Client) Loading() bool {
	return c.tracker.Loading()
}

// Err returns the most recent submission error on the shared tracker.
func (c *Client) Err() error {
	return c.tracker.Err()
}

// Close stops every polling loop owned by this client.
func (c *Client) Close() {
	c.engine.Close()
}

// nextPoll is the OCR poll continuation policy: keep polling while the
// task is STARTING or PROCESSING, stop on every terminal, unrecognized,
// or absent status.
func (c *Client) nextPoll(last TaskStatus) time.Duration {
	switch last.Status {
	case StatusStarting, StatusProcessing:
		return c.pollInterval
	default:
		return 0
	}
}

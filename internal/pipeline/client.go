// Package pipeline is the client for the AI pipeline family: run
// submission against POST /api/ai and adaptive status polling against
// GET /api/ai.
package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/reqhub/jobwatch/internal/state"
	"github.com/reqhub/jobwatch/internal/transport"
	"github.com/reqhub/jobwatch/internal/watch"
)

const errLabel = "Pipeline start failed"

// StartParams describes one pipeline run submission. Files carries
// uploaded file references, not raw content.
type StartParams struct {
	PipelineID     string         `json:"pipelineId"`
	Files          []string       `json:"files"`
	OrganizationID string         `json:"organizationId"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Config configures the pipeline run client.
type Config struct {
	Transport *transport.Client
	// PollInterval is the refetch delay while a run reports RUNNING.
	// Defaults to 2s.
	PollInterval time.Duration
	FetchTimeout time.Duration
	// Tracker aggregates submission loading/error state, shared with
	// the other submission paths. Optional.
	Tracker *state.Tracker
	Logger  *slog.Logger
}

// Client submits pipeline runs and watches their state.
type Client struct {
	tc           *transport.Client
	engine       *watch.Engine[RunStatus]
	tracker      *state.Tracker
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a pipeline run client with its own polling
// namespace.
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

	c.engine = watch.NewEngine(watch.Config[RunStatus]{
		Namespace:    "pipeline",
		Fetch:        c.fetchByKey,
		Interval:     c.nextPoll,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       c.logger,
	})

	return c
}

// Start submits one pipeline run. Identical submissions always create
// new runs; nothing is deduplicated.
func (c *Client) Start(ctx context.Context, params StartParams) (*StartResult, error) {
	done := c.tracker.Begin()

	body := struct {
		Action string `json:"action"`
		StartParams
	}{
		Action:      "startPipeline",
		StartParams: params,
	}

	var res StartResult
	if err := c.tc.PostJSON(ctx, "/api/ai", body, &res); err != nil {
		err = transport.WrapSubmit(errLabel, err)
		c.logger.Error("Pipeline start failed",
			slog.String("pipeline_id", params.PipelineID),
			slog.String("organization_id", params.OrganizationID),
			slog.Any("error", err),
		)
		done(err)
		return nil, err
	}

	done(nil)
	c.logger.Info("Pipeline run started",
		slog.String("pipeline_id", params.PipelineID),
		slog.String("run_id", res.RunID),
		slog.String("state", string(res.RunState())),
	)

	return &res, nil
}

// FetchRun performs one status fetch for a run id.
func (c *Client) FetchRun(ctx context.Context, runID, organizationID string) (RunStatus, error) {
	var rs RunStatus
	query := url.Values{
		"runId":          {runID},
		"organizationId": {organizationID},
	}
	if err := c.tc.GetJSON(ctx, "/api/ai", query, &rs); err != nil {
		return RunStatus{}, err
	}
	return rs, nil
}

// Watch returns a live polling handle for one run. The organization id
// rides along in the subscription key so distinct organizations never
// share a cache entry.
func (c *Client) Watch(runID, organizationID string, opts ...watch.SubscribeOption) *watch.Handle[RunStatus] {
	return c.engine.Subscribe(subscriptionKey(runID, organizationID), opts...)
}

// ClearCache invalidates the cache entries for the given run ids, or
// every entry in the pipeline namespace when called with none.
func (c *Client) ClearCache(keys ...string) {
	if len(keys) == 0 {
		c.engine.InvalidateAll()
		return
	}
	for _, k := range keys {
		c.engine.Invalidate(k)
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

// fetchByKey splits the subscription key back into run and organization
// ids for the status fetch.
func (c *Client) fetchByKey(ctx context.Context, key string) (RunStatus, error) {
	runID, orgID := splitKey(key)
	return c.FetchRun(ctx, runID, orgID)
}

// nextPoll is the pipeline poll continuation policy: RUNNING is the
// only state that keeps polling. STARTING and PENDING also halt
// automatic refetching and require a caller-driven re-trigger; the
// OCR family deliberately behaves differently here.
func (c *Client) nextPoll(last RunStatus) time.Duration {
	if last.State == StateRunning {
		return c.pollInterval
	}
	return 0
}

// SubscriptionKey returns the cache key Watch uses for a run, exposed
// so callers can target ClearCache at a specific run.
func SubscriptionKey(runID, organizationID string) string {
	return subscriptionKey(runID, organizationID)
}

func subscriptionKey(runID, organizationID string) string {
	if runID == "" {
		return ""
	}
	return runID + "|" + organizationID
}

func splitKey(key string) (runID, organizationID string) {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

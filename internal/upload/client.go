// Package upload submits input files to the shared upload endpoint and
// returns the uploaded file references later passed to pipeline runs.
package upload

import (
	"context"
	"log/slog"

	"github.com/reqhub/jobwatch/internal/state"
	"github.com/reqhub/jobwatch/internal/transport"
)

const errLabel = "Upload failed"

// Client wraps POST /api/upload.
type Client struct {
	tc      *transport.Client
	tracker *state.Tracker
	logger  *slog.Logger
}

// NewClient creates an upload client. The tracker aggregates this
// client's in-flight state with the other submission paths sharing it.
func NewClient(tc *transport.Client, tracker *state.Tracker, logger *slog.Logger) *Client {
	if tracker == nil {
		tracker = &state.Tracker{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{tc: tc, tracker: tracker, logger: logger}
}

// Send uploads the given files in a single multipart request and
// returns the server's file references in order. Whether an empty file
// list is meaningful is the caller's decision; no validation happens
// here. Failed uploads are never retried automatically.
func (c *Client) Send(ctx context.Context, files []transport.File) ([]string, error) {
	done := c.tracker.Begin()

	var res struct {
		Files []string `json:"files"`
	}
	if err := c.tc.PostMultipart(ctx, "/api/upload", "files", files, &res); err != nil {
		err = transport.WrapSubmit(errLabel, err)
		c.logger.Error("Upload failed",
			slog.Int("file_count", len(files)),
			slog.Any("error", err),
		)
		done(err)
		return nil, err
	}

	done(nil)
	c.logger.Info("Files uploaded",
		slog.Int("file_count", len(files)),
	)

	return res.Files, nil
}

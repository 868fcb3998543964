package llm

import (
	"context"

	"github.com/citabot/citabot/pkg/logging"
)

// FallbackClient wraps a primary provider with a secondary one. When the
// primary errors, the same request is retried against the fallback.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient creates a fallback-enabled client. A nil fallback means
// only the primary is ever used.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: primary client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

// Complete tries the primary provider and falls back on error.
func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary llm failed",
		"error", err,
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback llm also failed",
			"primary_error", err,
			"fallback_error", fallbackErr,
		)
		return Response{}, fallbackErr
	}
	return fallbackResp, nil
}

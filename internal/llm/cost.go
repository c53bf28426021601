package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/option"
)

type generationResponse struct {
	Data *struct {
		TotalCost *float64 `json:"total_cost"`
		Usage     *struct {
			Cost *float64 `json:"cost"`
		} `json:"usage"`
	} `json:"data"`
}

func (r generationResponse) cost() (float64, bool) {
	if r.Data == nil {
		return 0, false
	}
	if r.Data.TotalCost != nil && *r.Data.TotalCost != 0 {
		return *r.Data.TotalCost, true
	}
	if r.Data.Usage != nil && r.Data.Usage.Cost != nil {
		return *r.Data.Usage.Cost, true
	}
	// A bare zero total_cost means the record is not settled yet.
	return 0, false
}

// fetchGenerationCost looks up the cost of a finished generation. The record is often not ready
// right after the completion returns, so an empty first answer gets exactly one more attempt after
// costRetryDelay. Any failure yields ok=false.
func (c *Client) fetchGenerationCost(ctx context.Context, generationID string) (float64, bool) {
	if cost, ok := c.lookupGenerationCost(ctx, generationID); ok {
		return cost, true
	}

	t := time.NewTimer(c.costRetryDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return 0, false
	case <-t.C:
	}

	cost, ok := c.lookupGenerationCost(ctx, generationID)
	if !ok {
		c.log.Debug("generation cost unavailable", "generation_id", generationID)
	}
	return cost, ok
}

func (c *Client) lookupGenerationCost(ctx context.Context, generationID string) (float64, bool) {
	var out generationResponse
	err := c.api.Get(ctx, "generation", nil, &out,
		option.WithQuery("id", generationID),
		option.WithRequestTimeout(c.costLookupTimeout),
		option.WithMaxRetries(0),
	)
	if err != nil {
		c.log.Debug("generation cost lookup failed", "generation_id", generationID, "error", err)
		return 0, false
	}
	return out.cost()
}

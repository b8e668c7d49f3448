// ABOUTME: Unauthenticated reachability check for the agent service
// ABOUTME: Reports whether the service answers its health endpoint at all

package memgpt

import (
	"context"
	"fmt"
	"net/http"
)

// Health reports whether the service answers its health endpoint with 2xx.
func (c *Client) Health(ctx context.Context) error {
	if _, _, err := c.call(ctx, http.MethodGet, c.healthPath, nil, false); err != nil {
		return fmt.Errorf("agent service health check: %w", err)
	}
	return nil
}

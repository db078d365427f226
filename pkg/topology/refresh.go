package topology

import (
	"context"
	"time"

	"github.com/meditrack/backend/pkg/logger"
)

// Refresh reloads the graph from the given source at the given interval
// until ctx is done. Long-running consumers use this to pick up layout
// replacements applied through the API without a restart. A failed or
// empty load keeps the current graph.
func Refresh(ctx context.Context, g *Graph, interval time.Duration, load func(context.Context) ([]Node, []Edge, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes, edges, err := load(ctx)
			if err != nil {
				logger.Warn("Topology refresh failed", "err", err)
				continue
			}
			if len(nodes) == 0 {
				continue
			}
			if err := g.Load(nodes, edges); err != nil {
				logger.Warn("Refreshed topology is invalid, keeping current graph", "err", err)
			}
		}
	}
}

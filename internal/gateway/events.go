// ABOUTME: Timeline events published on the bus after each merge
// ABOUTME: Lets out-of-process listeners follow ingest without polling

package gateway

import (
	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/message"
)

// publishAppended announces a merged batch on bus.SubjectAppended. It is a
// no-op when the gateway runs without a bus.
func (g *Gateway) publishAppended(added []message.UnifiedMessage) {
	if g.bus == nil {
		return
	}
	if err := g.bus.PublishJSON(bus.SubjectAppended, added); err != nil {
		g.logger.Warn("failed to publish timeline event", "count", len(added), "error", err)
	}
}

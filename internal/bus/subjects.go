package bus

import (
	"fmt"

	"github.com/2389/clawswarm/internal/message"
)

// SubjectInbound carries raw webhook deliveries for a platform.
func SubjectInbound(p message.Platform) string {
	return fmt.Sprintf("clawswarm.inbound.%s", p)
}

// SubjectAppended carries batches newly merged into the timeline.
const SubjectAppended = "clawswarm.timeline.appended"

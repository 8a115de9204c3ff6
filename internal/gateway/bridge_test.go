package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/message"
)

// recordingPusher records every pushed message.
type recordingPusher struct {
	fakeAdapter

	pushMu sync.Mutex
	pushed []message.UnifiedMessage
}

func (r *recordingPusher) Push(m message.UnifiedMessage) {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()
	r.pushed = append(r.pushed, m)
}

func (r *recordingPusher) pushedKeys() []string {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()
	return ids(r.pushed)
}

func TestBridge_DedupesAndChecksPlatform(t *testing.T) {
	b := newBridge(testLogger())
	defer b.close()
	p := &recordingPusher{fakeAdapter: fakeAdapter{platform: message.PlatformWhatsApp}}

	b.handle(p, msg(message.PlatformWhatsApp, "a", 1000))
	b.handle(p, msg(message.PlatformWhatsApp, "a", 1000))
	b.handle(p, msg(message.PlatformTelegram, "b", 1000))
	b.handle(p, msg(message.PlatformWhatsApp, "c", 2000))

	assert.Equal(t, []string{"whatsapp:a", "whatsapp:c"}, p.pushedKeys())
}

func TestBridge_AttachOverBus(t *testing.T) {
	srv, err := bus.Start(bus.Config{Host: "127.0.0.1", Port: bus.RandomPort}, testLogger())
	require.NoError(t, err)
	defer srv.Close()
	client, err := bus.Connect(srv.ClientURL(), testLogger())
	require.NoError(t, err)
	defer client.Close()

	b := newBridge(testLogger())
	defer b.close()
	p := &recordingPusher{fakeAdapter: fakeAdapter{platform: message.PlatformWhatsApp}}
	require.NoError(t, b.attach(client, p))
	require.NoError(t, client.Flush())

	subject := bus.SubjectInbound(message.PlatformWhatsApp)
	require.NoError(t, client.PublishJSON(subject, msg(message.PlatformWhatsApp, "1", 1000)))
	require.NoError(t, client.PublishJSON(subject, msg(message.PlatformWhatsApp, "1", 1000)))
	require.NoError(t, client.PublishJSON(subject, msg(message.PlatformWhatsApp, "2", 2000)))
	require.NoError(t, client.Flush())

	require.Eventually(t, func() bool { return len(p.pushedKeys()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"whatsapp:1", "whatsapp:2"}, p.pushedKeys())
}

package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/message"
)

func startBus(t *testing.T) (*Server, *Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := Start(Config{Port: RandomPort}, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	c, err := Connect(srv.ClientURL(), logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return srv, c
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "clawswarm.inbound.whatsapp", SubjectInbound(message.PlatformWhatsApp))
}

func TestPublishSubscribeJSON(t *testing.T) {
	_, c := startBus(t)

	got := make(chan message.UnifiedMessage, 1)
	_, err := SubscribeJSON(c, "test.subject", func(m message.UnifiedMessage) { got <- m })
	require.NoError(t, err)

	require.NoError(t, c.PublishJSON("test.subject", message.UnifiedMessage{ID: "1", Text: "hi"}))
	require.NoError(t, c.Flush())

	select {
	case m := <-got:
		assert.Equal(t, "hi", m.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeJSON_DropsGarbage(t *testing.T) {
	_, c := startBus(t)

	got := make(chan string, 2)
	_, err := SubscribeJSON(c, "test.garbage", func(m message.UnifiedMessage) { got <- m.ID })
	require.NoError(t, err)

	require.NoError(t, c.Publish("test.garbage", []byte("{not json")))
	require.NoError(t, c.PublishJSON("test.garbage", message.UnifiedMessage{ID: "ok"}))
	require.NoError(t, c.Flush())

	select {
	case id := <-got:
		assert.Equal(t, "ok", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

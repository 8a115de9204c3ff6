package replier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
)

type sent struct {
	channelID, threadID, text string
}

type fakeSender struct {
	platform message.Platform
	disabled bool
	mu       sync.Mutex
	errs     []error
	sent     []sent
	calls    int
}

func (f *fakeSender) Platform() message.Platform { return f.platform }
func (f *fakeSender) Enabled() bool { return !f.disabled }

func (f *fakeSender) Send(ctx context.Context, channelID, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sent{channelID, threadID, text})
	return nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newTestReplier(sleeper *sleepRecorder, senders ...adapter.Sender) *Replier {
	return New(Config{
		MaxAttempts: 3,
		Rate:        1000,
		Burst:       10,
		BackoffBase: 100 * time.Millisecond,
		Sleep:       sleeper.sleep,
	}, senders...)
}

func TestSend_Success(t *testing.T) {
	tg := &fakeSender{platform: message.PlatformTelegram}
	r := newTestReplier(&sleepRecorder{}, tg)

	require.NoError(t, r.Send(context.Background(), message.PlatformTelegram, "42", "7", "hello"))
	require.Len(t, tg.sent, 1)
	assert.Equal(t, sent{"42", "7", "hello"}, tg.sent[0])
}

func TestSend_RetriesTransientWithBackoff(t *testing.T) {
	unavailable := adapter.Unavailable(message.PlatformDiscord, errors.New("429"))
	dc := &fakeSender{platform: message.PlatformDiscord, errs: []error{unavailable, unavailable}}
	sleeper := &sleepRecorder{}
	r := newTestReplier(sleeper, dc)

	require.NoError(t, r.Send(context.Background(), message.PlatformDiscord, "c", "", "hi"))
	assert.Equal(t, 3, dc.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.waits)
}

func TestSend_GivesUpAfterMaxAttempts(t *testing.T) {
	unavailable := adapter.Unavailable(message.PlatformWhatsApp, errors.New("503"))
	wa := &fakeSender{platform: message.PlatformWhatsApp, errs: []error{unavailable, unavailable, unavailable, nil}}
	r := newTestReplier(&sleepRecorder{}, wa)

	err := r.Send(context.Background(), message.PlatformWhatsApp, "15551234", "", "hi")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.ErrorIs(t, err, adapter.ErrUnavailable)
	assert.Equal(t, 3, wa.calls)
	assert.Empty(t, wa.sent)
}

func TestSend_PermanentErrorFailsImmediately(t *testing.T) {
	tg := &fakeSender{platform: message.PlatformTelegram, errs: []error{errors.New("chat not found")}}
	sleeper := &sleepRecorder{}
	r := newTestReplier(sleeper, tg)

	err := r.Send(context.Background(), message.PlatformTelegram, "1", "", "hi")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, 1, tg.calls)
	assert.Empty(t, sleeper.waits)
}

func TestSend_UnknownAndDisabledPlatforms(t *testing.T) {
	mx := &fakeSender{platform: message.PlatformMatrix, disabled: true}
	r := newTestReplier(&sleepRecorder{}, mx)

	err := r.Send(context.Background(), message.PlatformEmail, "a@b.c", "", "hi")
	assert.ErrorIs(t, err, ErrDeliveryFailure)

	err = r.Send(context.Background(), message.PlatformMatrix, "!room:x", "", "hi")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.ErrorIs(t, err, adapter.ErrDisabled)
	assert.Zero(t, mx.calls)
}

func TestSend_ContextCanceledDuringBackoff(t *testing.T) {
	unavailable := adapter.Unavailable(message.PlatformTelegram, errors.New("timeout"))
	tg := &fakeSender{platform: message.PlatformTelegram, errs: []error{unavailable, unavailable, unavailable}}
	r := New(Config{MaxAttempts: 5, Rate: 1000, Burst: 10, BackoffBase: time.Hour}, tg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Send(ctx, message.PlatformTelegram, "1", "", "hi")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, tg.calls)
}

func TestBackoffCaps(t *testing.T) {
	r := New(Config{BackoffBase: 10 * time.Second})
	assert.Equal(t, 10*time.Second, r.backoff(1))
	assert.Equal(t, 20*time.Second, r.backoff(2))
	assert.Equal(t, maxBackoff, r.backoff(3))
	assert.Equal(t, maxBackoff, r.backoff(80))
}

func TestPlatforms(t *testing.T) {
	r := New(Config{}, &fakeSender{platform: message.PlatformMatrix}, &fakeSender{platform: message.PlatformTelegram})
	assert.Equal(t, []message.Platform{message.PlatformTelegram, message.PlatformMatrix}, r.Platforms())
}

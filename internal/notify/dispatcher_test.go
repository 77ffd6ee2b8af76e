package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/poll"
	"smsrelay/internal/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// recordingChannel captures every alert it is asked to deliver.
type recordingChannel struct {
	name    string
	sent    []Alert
	sendErr error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, alert Alert) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, alert)
	return nil
}

var dispatchNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newMessageOutcome() poll.Outcome {
	return poll.Outcome{
		Kind: poll.KindNewMessages,
		New: []types.Message{
			{ID: 5, Sender: "+4915112345678", ReceivedAt: "t1", Content: "OTP 123456"},
		},
		Attempts: 1,
	}
}

func TestDispatch_NewMessageAlert(t *testing.T) {
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{channel}})

	dispatcher.Dispatch(context.Background(), newMessageOutcome())

	require.Len(t, channel.sent, 1)
	alert := channel.sent[0]
	assert.Equal(t, CategoryNewMessage, alert.Category)
	assert.Contains(t, alert.Title, "+4915112345678")
	assert.Contains(t, alert.Body, "OTP 123456")
	require.NotNil(t, alert.Message)
	assert.Equal(t, int64(5), alert.Message.ID)
}

func TestDispatch_FailureEscalationAlert(t *testing.T) {
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{channel}})

	dispatcher.Dispatch(context.Background(), poll.Outcome{
		Kind:       poll.KindTransientError,
		Escalation: poll.Decision{Action: poll.ActionAlertNow, Count: 3},
		Err:        types.NewAppError(types.ErrCodeFetchTransient, "connection timed out", nil),
	})

	require.Len(t, channel.sent, 1)
	assert.Equal(t, CategoryPollFailure, channel.sent[0].Category)
	assert.Contains(t, channel.sent[0].Body, "3 consecutive")
	assert.Contains(t, channel.sent[0].Body, "connection timed out")
}

func TestDispatch_RecoveryAlert(t *testing.T) {
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{channel}})

	dispatcher.Dispatch(context.Background(), poll.Outcome{
		Kind:       poll.KindNoNewMessages,
		Escalation: poll.Decision{Action: poll.ActionAlertRecovered, Count: 4},
	})

	require.Len(t, channel.sent, 1)
	assert.Equal(t, CategoryPollRecovered, channel.sent[0].Category)
	assert.Contains(t, channel.sent[0].Body, "after 4 consecutive failures")
}

func TestDispatch_IDResetAlertAlongsideNewMessages(t *testing.T) {
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{channel}})

	outcome := newMessageOutcome()
	outcome.IDReset = true
	dispatcher.Dispatch(context.Background(), outcome)

	require.Len(t, channel.sent, 2)
	assert.Equal(t, CategoryNewMessage, channel.sent[0].Category)
	assert.Equal(t, CategoryIDReset, channel.sent[1].Category)
}

func TestDispatch_QuietOutcomeSendsNothing(t *testing.T) {
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{channel}})

	dispatcher.Dispatch(context.Background(), poll.Outcome{Kind: poll.KindNoNewMessages})
	dispatcher.Dispatch(context.Background(), poll.Outcome{
		Kind: poll.KindTransientError,
		Err:  errors.New("below threshold"),
	})

	assert.Empty(t, channel.sent)
}

func TestDispatch_RateLimitSuppressesRepeatCategory(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: dispatchNow}
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{
		Channels: []Channel{channel},
		Limiter:  NewRateLimiter(dir, 300*time.Second, clock, nil),
	})
	ctx := context.Background()

	dispatcher.Dispatch(ctx, newMessageOutcome())
	clock.now = clock.now.Add(time.Minute)
	dispatcher.Dispatch(ctx, newMessageOutcome())

	assert.Len(t, channel.sent, 1, "second alert inside the window is suppressed")

	clock.now = clock.now.Add(10 * time.Minute)
	dispatcher.Dispatch(ctx, newMessageOutcome())
	assert.Len(t, channel.sent, 2, "alert flows again once the window passes")
}

func TestDispatch_RateLimitIsPerCategory(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: dispatchNow}
	channel := &recordingChannel{name: "test"}
	dispatcher := NewDispatcher(DispatcherConfig{
		Channels: []Channel{channel},
		Limiter:  NewRateLimiter(dir, 300*time.Second, clock, nil),
	})
	ctx := context.Background()

	dispatcher.Dispatch(ctx, newMessageOutcome())
	dispatcher.Dispatch(ctx, poll.Outcome{
		Kind:       poll.KindTransientError,
		Escalation: poll.Decision{Action: poll.ActionAlertNow, Count: 3},
	})

	require.Len(t, channel.sent, 2, "different categories never suppress each other")
	assert.Equal(t, CategoryNewMessage, channel.sent[0].Category)
	assert.Equal(t, CategoryPollFailure, channel.sent[1].Category)
}

func TestDispatch_FailedDeliveryIsRetriedNextCycle(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: dispatchNow}
	channel := &recordingChannel{name: "test", sendErr: errors.New("endpoint down")}
	dispatcher := NewDispatcher(DispatcherConfig{
		Channels: []Channel{channel},
		Limiter:  NewRateLimiter(dir, 300*time.Second, clock, nil),
	})
	ctx := context.Background()

	dispatcher.Dispatch(ctx, newMessageOutcome())
	assert.Empty(t, channel.sent)
	assert.NoFileExists(t, filepath.Join(dir, "notify-ratelimit.json"),
		"a fully failed delivery must not consume the rate-limit window")

	// The endpoint comes back; the very next cycle delivers.
	channel.sendErr = nil
	dispatcher.Dispatch(ctx, newMessageOutcome())
	assert.Len(t, channel.sent, 1)
}

func TestDispatch_OneChannelFailingDoesNotBlockOthers(t *testing.T) {
	broken := &recordingChannel{name: "broken", sendErr: errors.New("boom")}
	working := &recordingChannel{name: "working"}
	dispatcher := NewDispatcher(DispatcherConfig{Channels: []Channel{broken, working}})

	dispatcher.Dispatch(context.Background(), newMessageOutcome())

	assert.Empty(t, broken.sent)
	assert.Len(t, working.sent, 1)
}

func TestDispatch_NoChannelsConfigured(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{})

	// Logged only; must not panic.
	dispatcher.Dispatch(context.Background(), newMessageOutcome())
}

func TestRateLimiter_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: dispatchNow}
	ctx := context.Background()

	first := NewRateLimiter(dir, 300*time.Second, clock, nil)
	require.True(t, first.Allow(ctx, CategoryNewMessage))
	first.Record(ctx, CategoryNewMessage)

	// A fresh process sees the stamp from disk.
	second := NewRateLimiter(dir, 300*time.Second, clock, nil)
	assert.False(t, second.Allow(ctx, CategoryNewMessage))

	clock.now = clock.now.Add(301 * time.Second)
	assert.True(t, second.Allow(ctx, CategoryNewMessage))
}

func TestRateLimiter_CorruptRecordStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notify-ratelimit.json"), []byte("{nope"), 0o644))

	limiter := NewRateLimiter(dir, 300*time.Second, &fakeClock{now: dispatchNow}, nil)
	assert.True(t, limiter.Allow(context.Background(), CategoryNewMessage))
}

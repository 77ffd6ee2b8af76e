package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/external"
	"smsrelay/internal/types"
)

func newTestBase() *external.BaseClient {
	return external.NewBaseClient(
		&http.Client{Timeout: time.Second},
		"test",
		external.NoRetryPolicy(),
		"smsrelay-test/1.0",
		external.WithSleepFunc(func(time.Duration) {}),
	)
}

func testAlert() Alert {
	return Alert{
		Category: CategoryNewMessage,
		Title:    "New SMS from +49151",
		Body:     "OTP 123456",
	}
}

func TestTelegramSend_Success(t *testing.T) {
	var gotPath string
	var gotPayload telegramSendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	channel := NewTelegramChannelWithBase(newTestBase(), TelegramChannelConfig{
		BotToken: types.SecretString("123:abc"),
		ChatID:   "42",
		BaseURL:  server.URL,
	})

	require.NoError(t, channel.Send(context.Background(), testAlert()))
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "42", gotPayload.ChatID)
	assert.Contains(t, gotPayload.Text, "New SMS from +49151")
	assert.Contains(t, gotPayload.Text, "OTP 123456")
}

func TestTelegramSend_APIRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	channel := NewTelegramChannelWithBase(newTestBase(), TelegramChannelConfig{
		BotToken: types.SecretString("123:abc"),
		ChatID:   "42",
		BaseURL:  server.URL,
	})

	err := channel.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotifyFailed, types.CodeOf(err))
}

func TestTelegramSend_ServerErrorSurfacesAsNotifyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewTelegramChannelWithBase(newTestBase(), TelegramChannelConfig{
		BotToken: types.SecretString("123:abc"),
		ChatID:   "42",
		BaseURL:  server.URL,
	})

	err := channel.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotifyFailed, types.CodeOf(err))
}

package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qrbot/internal/config"
	"qrbot/internal/messenger/messengertest"
	"qrbot/internal/models"
	"qrbot/internal/storage/stubs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rendererFunc adapts a function to bot.Renderer
type rendererFunc func(text string) ([]byte, error)

func (f rendererFunc) Render(text string) ([]byte, error) {
	return f(text)
}

func pngRenderer(text string) ([]byte, error) {
	return []byte("png:" + text), nil
}

func testConfig(mode config.Mode) *config.Config {
	return &config.Config{
		TelegramToken:      "123:abc",
		Mode:               mode,
		WebhookURL:         "https://bot.example.com",
		DropPendingUpdates: true,
		PollTimeout:        time.Second,
		PollMaxRetries:     0,
		Workers:            2,
		QueueSize:          8,
		HandlerTimeout:     time.Second,
		ShutdownTimeout:    time.Second,
		StatsBackend:       config.StatsMemory,
	}
}

func textUpdate(id int64, text string) models.Update {
	u := models.Update{ID: id, SenderID: 1, ChatID: 456, Text: text}
	models.Classify(&u)
	return u
}

// serve runs a on a loopback listener and returns its address and a channel yielding Serve's result
func serve(t *testing.T, ctx context.Context, a *App) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		errc <- a.Serve(ctx, ln)
	}()
	return ln.Addr().String(), errc
}

func waitResult(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestApp_DrainWaitsForInFlightRender(t *testing.T) {
	api := &messengertest.Fake{}
	api.QueueFetch([]models.Update{textUpdate(1, "hello")}, nil)

	started := make(chan struct{})
	renderer := rendererFunc(func(text string) ([]byte, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return pngRenderer(text)
	})
	db := stubs.NewMockDB()
	a := build(testConfig(config.ModePolling), zap.NewNop(), api, db, renderer)

	ctx, cancel := context.WithCancel(context.Background())
	_, errc := serve(t, ctx, a)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()

	require.NoError(t, waitResult(t, errc))
	assert.Equal(t, StateStopped, a.State())

	sent := api.Sent()
	require.Len(t, sent, 1, "in-flight reply delivered before exit")
	assert.True(t, sent[0].IsPhoto())
	assert.Equal(t, "Here's your QR code for: hello", sent[0].Caption)

	require.Len(t, db.Events(), 1)
	assert.Equal(t, models.OutcomeOK, db.Events()[0].Outcome)
	assert.Error(t, db.RecordDispatch(context.Background(), models.DispatchEvent{}), "store is closed on shutdown")
}

func TestApp_DrainTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	api := &messengertest.Fake{}
	api.QueueFetch([]models.Update{textUpdate(1, "hello")}, nil)

	started := make(chan struct{})
	renderer := rendererFunc(func(text string) ([]byte, error) {
		close(started)
		<-release
		return pngRenderer(text)
	})
	cfg := testConfig(config.ModePolling)
	cfg.ShutdownTimeout = 20 * time.Millisecond
	a := build(cfg, zap.NewNop(), api, stubs.NewMockDB(), renderer)

	ctx, cancel := context.WithCancel(context.Background())
	_, errc := serve(t, ctx, a)
	<-started
	cancel()

	err := waitResult(t, errc)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Equal(t, StateStopped, a.State())
}

func TestApp_HealthWhileRunning(t *testing.T) {
	a := build(testConfig(config.ModePolling), zap.NewNop(), &messengertest.Fake{}, stubs.NewMockDB(), rendererFunc(pngRenderer))

	ctx, cancel := context.WithCancel(context.Background())
	addr, errc := serve(t, ctx, a)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "mode: polling")

	cancel()
	require.NoError(t, waitResult(t, errc))

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err, "listener is closed after shutdown")
}

func TestApp_HealthByState(t *testing.T) {
	a := build(testConfig(config.ModePolling), zap.NewNop(), &messengertest.Fake{}, stubs.NewMockDB(), rendererFunc(pngRenderer))
	h := a.routes()

	testCases := []struct {
		state State
		want  int
	}{
		{state: StateStarting, want: http.StatusServiceUnavailable},
		{state: StateRunning, want: http.StatusOK},
		{state: StateDraining, want: http.StatusServiceUnavailable},
		{state: StateStopped, want: http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.state.String(), func(t *testing.T) {
			a.setState(tc.state)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestApp_MetricsEndpoint(t *testing.T) {
	a := build(testConfig(config.ModePolling), zap.NewNop(), &messengertest.Fake{}, stubs.NewMockDB(), rendererFunc(pngRenderer))

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestApp_WebhookMode(t *testing.T) {
	api := &messengertest.Fake{}
	a := build(testConfig(config.ModeWebhook), zap.NewNop(), api, stubs.NewMockDB(), rendererFunc(pngRenderer))
	require.NotNil(t, a.session.Webhook)
	assert.Equal(t, "webhook", a.session.Source.Name())

	ctx, cancel := context.WithCancel(context.Background())
	addr, errc := serve(t, ctx, a)

	// Registered only once the listener is bound, pointing at the secret path
	require.Eventually(t, func() bool { return len(api.Webhooks()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "https://bot.example.com"+a.session.Webhook.Path(), api.Webhooks()[0])

	body := `{"update_id": 9, "message": {"message_id": 1, "date": 1700000000,
		"from": {"id": 1, "first_name": "A"}, "chat": {"id": 456, "type": "private"}, "text": "/start"}}`
	resp, err := http.Post("http://"+addr+a.session.Webhook.Path(), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post("http://"+addr+"/webhook/wrong", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Eventually(t, func() bool { return len(api.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitResult(t, errc))
	assert.Empty(t, api.Clears(), "webhook mode never clears the webhook")
}

func TestApp_SourceFailureStopsApp(t *testing.T) {
	api := &messengertest.Fake{ClearErr: errors.New("unauthorized")}
	cfg := testConfig(config.ModePolling)
	cfg.PollMaxRetries = 1
	a := build(cfg, zap.NewNop(), api, stubs.NewMockDB(), rendererFunc(pngRenderer))

	_, errc := serve(t, context.Background(), a)

	err := waitResult(t, errc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poller")
	assert.Equal(t, StateStopped, a.State())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qrbot/internal/messenger"
	"qrbot/internal/messenger/messengertest"
	"qrbot/internal/metrics"
	"qrbot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSink collects submitted updates
type recordingSink struct {
	mu      sync.Mutex
	updates []models.Update
	err     error
}

func (s *recordingSink) Submit(ctx context.Context, update models.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, update)
	return nil
}

func (s *recordingSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.updates))
	for _, u := range s.updates {
		ids = append(ids, u.ID)
	}
	return ids
}

func updates(ids ...int64) []models.Update {
	out := make([]models.Update, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Update{ID: id, ChatID: 1, Text: "t", Kind: models.KindText})
	}
	return out
}

func newTestPoller(api messenger.Messenger, sink Sink, maxRetries int) *Poller {
	return NewPoller(api, sink, PollerOptions{
		Timeout:     time.Second,
		DropPending: true,
		MaxRetries:  maxRetries,
		Backoff:     func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}, zap.NewNop(), metrics.New())
}

// runPoller starts p in the background and returns a stop function yielding Start's error
func runPoller(p *Poller) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- p.Start(ctx)
	}()
	return func() error {
		cancel()
		return <-errc
	}
}

func TestPoller_FetchBatchAdvancesCursor(t *testing.T) {
	api := &messengertest.Fake{}
	api.QueueFetch(updates(5, 6, 7), nil)
	p := newTestPoller(api, &recordingSink{}, 0)

	batch, next, err := p.FetchBatch(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, int64(8), next)
	require.Len(t, batch, 3)
	assert.Equal(t, []int64{4}, api.Cursors())
}

func TestPoller_DispatchesInOrder(t *testing.T) {
	api := &messengertest.Fake{}
	api.QueueFetch(updates(1, 2, 3), nil)
	api.QueueFetch(updates(5, 6, 7), nil)
	sink := &recordingSink{}
	p := newTestPoller(api, sink, 0)

	stop := runPoller(p)
	require.Eventually(t, func() bool { return len(api.Cursors()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []int64{1, 2, 3, 5, 6, 7}, sink.ids())
	assert.Equal(t, []int64{0, 4, 8}, api.Cursors())
	assert.Equal(t, 6.0, testutil.ToFloat64(p.metrics.UpdatesReceived.WithLabelValues("poller")))
}

func TestPoller_ClearsWebhookFirst(t *testing.T) {
	api := &messengertest.Fake{}
	p := newTestPoller(api, &recordingSink{}, 0)

	stop := runPoller(p)
	require.Eventually(t, func() bool { return len(api.Cursors()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []bool{true}, api.Clears())
}

func TestPoller_FailureKeepsCursor(t *testing.T) {
	api := &messengertest.Fake{}
	api.QueueFetch(updates(10), nil)
	api.QueueFetch(nil, errors.New("502 bad gateway"))
	api.QueueFetch(nil, errors.New("connection reset"))
	api.QueueFetch(updates(11), nil)
	sink := &recordingSink{}
	p := newTestPoller(api, sink, 0)

	stop := runPoller(p)
	require.Eventually(t, func() bool { return len(api.Cursors()) == 5 }, time.Second, time.Millisecond)
	require.NoError(t, stop())

	// Cursor is unchanged across failed calls and monotonic overall
	assert.Equal(t, []int64{0, 11, 11, 11, 12}, api.Cursors())
	assert.Equal(t, []int64{10, 11}, sink.ids())
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.PollErrors))
}

func TestPoller_GivesUpAfterMaxRetries(t *testing.T) {
	api := &messengertest.Fake{}
	for i := 0; i < 3; i++ {
		api.QueueFetch(nil, errors.New("unreachable"))
	}
	p := newTestPoller(api, &recordingSink{}, 2)

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getUpdates failed 3 times")
	assert.Len(t, api.Cursors(), 3)
}

func TestPoller_ClearWebhookRetries(t *testing.T) {
	api := &messengertest.Fake{ClearErr: errors.New("unreachable")}
	p := newTestPoller(api, &recordingSink{}, 1)

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleteWebhook")
	assert.Len(t, api.Clears(), 2)
	assert.Empty(t, api.Cursors(), "must not poll while a webhook may be active")
}

func TestPoller_SinkFailureStopsWithoutSkipping(t *testing.T) {
	api := &messengertest.Fake{}
	api.QueueFetch(updates(3, 4), nil)
	sink := &recordingSink{err: errors.New("dispatcher closed")}
	p := newTestPoller(api, sink, 0)

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), p.Cursor(), "update 3 was not handed off")
}

func TestPoller_StopsOnCancel(t *testing.T) {
	api := &messengertest.Fake{}
	p := newTestPoller(api, &recordingSink{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, p.Start(ctx))
}

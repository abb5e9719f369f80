package messenger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"qrbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is the outbound side of the messaging platform
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error
	RegisterWebhook(ctx context.Context, url string) error
	ClearWebhook(ctx context.Context, dropPending bool) error
	// FetchUpdates long-polls for updates with id >= cursor, waiting at most timeout.
	// Updates are returned in ascending id order together with the next cursor.
	FetchUpdates(ctx context.Context, cursor int64, timeout time.Duration) ([]models.Update, int64, error)
}

// TransportError is a failed call to the platform API
type TransportError struct {
	Op        string
	Err       error
	Permanent bool // the platform rejected the request, retrying will not help
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a TransportError that should not be retried
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}

func newTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	te := &TransportError{Op: op, Err: err}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		// 4xx means the request itself is wrong, except for rate limiting
		te.Permanent = apiErr.Code >= http.StatusBadRequest &&
			apiErr.Code < http.StatusInternalServerError &&
			apiErr.Code != http.StatusTooManyRequests
	}
	return te
}

// call runs a blocking API call and gives up waiting when ctx is done.
// The call itself keeps running in the background until the HTTP client times out.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

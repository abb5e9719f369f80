// Package messengertest provides an in-memory Messenger for tests.
package messengertest

import (
	"context"
	"sync"
	"time"

	"qrbot/internal/models"
)

// Sent is one outbound message captured by Fake
type Sent struct {
	ChatID  int64
	Text    string
	Photo   []byte
	Caption string
}

// IsPhoto reports whether a photo was sent
func (s Sent) IsPhoto() bool {
	return len(s.Photo) > 0
}

type fetchResult struct {
	updates []models.Update
	err     error
}

// Fake records every call and serves scripted getUpdates batches.
// Set the exported fields before handing the Fake to the code under test.
type Fake struct {
	// UserName is reported by Username
	UserName string
	// SendErrors are returned by successive send calls; nil entries succeed
	SendErrors []error
	// RegisterErrors are returned by successive RegisterWebhook calls
	RegisterErrors []error
	// ClearErr is returned by every ClearWebhook call
	ClearErr error
	// OnSend runs before a send is recorded
	OnSend func(Sent)

	mu        sync.Mutex
	sendCalls int
	sent      []Sent
	webhooks  []string
	clears    []bool
	cursors   []int64
	fetches   []fetchResult
}

// Username returns UserName
func (f *Fake) Username() string {
	return f.UserName
}

// QueueFetch scripts the result of the next unscripted FetchUpdates call
func (f *Fake) QueueFetch(updates []models.Update, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, fetchResult{updates: updates, err: err})
}

// SendText records a text message
func (f *Fake) SendText(ctx context.Context, chatID int64, text string) error {
	return f.send(Sent{ChatID: chatID, Text: text})
}

// SendPhoto records a photo
func (f *Fake) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error {
	return f.send(Sent{ChatID: chatID, Photo: image, Caption: caption})
}

func (f *Fake) send(s Sent) error {
	if f.OnSend != nil {
		f.OnSend(s)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call := f.sendCalls
	f.sendCalls++
	if call < len(f.SendErrors) && f.SendErrors[call] != nil {
		return f.SendErrors[call]
	}
	f.sent = append(f.sent, s)
	return nil
}

// RegisterWebhook records the webhook url
func (f *Fake) RegisterWebhook(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.webhooks)
	f.webhooks = append(f.webhooks, url)
	if call < len(f.RegisterErrors) {
		return f.RegisterErrors[call]
	}
	return nil
}

// ClearWebhook records the dropPending flag
func (f *Fake) ClearWebhook(ctx context.Context, dropPending bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, dropPending)
	return f.ClearErr
}

// FetchUpdates returns the next scripted batch, or blocks until ctx is done
func (f *Fake) FetchUpdates(ctx context.Context, cursor int64, timeout time.Duration) ([]models.Update, int64, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	var next *fetchResult
	if len(f.fetches) > 0 {
		next = &f.fetches[0]
		f.fetches = f.fetches[1:]
	}
	f.mu.Unlock()

	if next == nil {
		<-ctx.Done()
		return nil, cursor, ctx.Err()
	}
	if next.err != nil {
		return nil, cursor, next.err
	}
	return next.updates, models.NextCursor(next.updates, cursor), nil
}

// Sent returns every successfully sent message
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SendCalls returns the number of send attempts, failed ones included
func (f *Fake) SendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// Webhooks returns every url passed to RegisterWebhook
func (f *Fake) Webhooks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.webhooks...)
}

// Clears returns the dropPending flag of every ClearWebhook call
func (f *Fake) Clears() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.clears...)
}

// Cursors returns the cursor of every FetchUpdates call
func (f *Fake) Cursors() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cursors...)
}

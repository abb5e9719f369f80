package render

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// ErrEncoding is returned when text cannot be turned into a QR code
var ErrEncoding = errors.New("qr encoding failed")

const (
	// ModuleSize is the width in pixels of one QR module
	ModuleSize = 10
	// Level is the error-correction level ("L")
	Level = qrcode.Low
)

// Renderer produces PNG QR codes with fixed encoding parameters.
// The image carries the standard 4-module quiet zone.
type Renderer struct {
	level      qrcode.RecoveryLevel
	moduleSize int
}

// New creates a Renderer
func New() *Renderer {
	return &Renderer{
		level:      Level,
		moduleSize: ModuleSize,
	}
}

// Render encodes text into a PNG image
func (r *Renderer) Render(text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEncoding)
	}

	qr, err := qrcode.New(text, r.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	// A negative size makes every module moduleSize pixels wide
	png, err := qr.PNG(-r.moduleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return png, nil
}

package render

import (
	"bytes"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode reads a rendered PNG back into text
func decode(t *testing.T, data []byte) string {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err, "output must be a valid PNG")

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_PURE_BARCODE: true,
	}
	result, err := zxqrcode.NewQRCodeReader().Decode(bmp, hints)
	require.NoError(t, err, "output must be a decodable QR code")

	return result.GetText()
}

func TestRender_RoundTrip(t *testing.T) {
	r := New()

	inputs := []string{
		"hello",
		"https://example.com/path?query=1&other=two",
		"A",
		"Simply send me any text, and I'll generate a QR code for it.",
		strings.Repeat("0123456789", 30),
	}

	for _, text := range inputs {
		t.Run(text[:min(len(text), 20)], func(t *testing.T) {
			data, err := r.Render(text)
			require.NoError(t, err)
			assert.Equal(t, text, decode(t, data))
		})
	}
}

func TestRender_ModuleSizeAndBorder(t *testing.T) {
	data, err := New().Render("hello")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// "hello" fits in version 1 (21 modules) plus 4 quiet modules per side
	width := img.Bounds().Dx()
	assert.Equal(t, (21+2*4)*ModuleSize, width)
	assert.Equal(t, width, img.Bounds().Dy())
}

func TestRender_Deterministic(t *testing.T) {
	r := New()

	a, err := r.Render("same input")
	require.NoError(t, err)
	b, err := r.Render("same input")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRender_EmptyText(t *testing.T) {
	_, err := New().Render("")
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestRender_TooLong(t *testing.T) {
	_, err := New().Render(strings.Repeat("x", 5000))
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestRender_Concurrent(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Render("concurrent"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}

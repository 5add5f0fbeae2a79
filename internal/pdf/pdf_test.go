package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(w, h), &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func TestTextToPDF(t *testing.T) {
	doc, err := TextToPDF("Invoice 42", "Total due: 120 EUR\r\nThank you", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Options{})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
	assert.Equal(t, 1, doc.PageCount)
}

func TestTextToPDF_LongTextSpansPages(t *testing.T) {
	text := strings.Repeat("A line of scanned text.\n", 400)

	doc, err := TextToPDF("", text, time.Now(), Options{PageSize: PageLetter})
	require.NoError(t, err)
	assert.Greater(t, doc.PageCount, 1)
}

func TestTextToPDF_NonLatinCharacters(t *testing.T) {
	doc, err := TextToPDF("Café menu", "Crème brûlée 8€", time.Now(), Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Data)
}

func TestImagesToPDF_OnePagePerImage(t *testing.T) {
	images := [][]byte{
		encodeJPEG(t, 300, 400),
		encodePNG(t, 400, 300),
	}

	doc, err := ImagesToPDF(images, Options{Orientation: Landscape})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
	assert.Equal(t, 2, doc.PageCount)
}

func TestImagesToPDF_ConvertsUnsupportedFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solidImage(50, 50), nil))

	doc, err := ImagesToPDF([][]byte{buf.Bytes()}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount)
}

func TestImagesToPDF_Errors(t *testing.T) {
	_, err := ImagesToPDF(nil, Options{})
	assert.Error(t, err)

	_, err = ImagesToPDF([][]byte{encodePNG(t, 10, 10), []byte("not an image")}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image 2")
}

func TestFitRect(t *testing.T) {
	testCases := []struct {
		name         string
		w, h         float64
		boxW, boxH   float64
		wantW, wantH float64
	}{
		{"wide image", 200, 100, 500, 700, 500, 250},
		{"tall image", 100, 400, 500, 700, 175, 700},
		{"small image scales up", 10, 10, 100, 50, 50, 50},
		{"degenerate", 0, 10, 100, 50, 100, 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := fitRect(tc.w, tc.h, tc.boxW, tc.boxH)
			assert.InDelta(t, tc.wantW, w, 0.001)
			assert.InDelta(t, tc.wantH, h, 0.001)
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PageSize: "B5", Orientation: "sideways"}.withDefaults()
	assert.Equal(t, PageA4, o.PageSize)
	assert.Equal(t, Portrait, o.Orientation)
	assert.Equal(t, DefaultMargin, o.Margin)

	o = Options{Margin: -1}.withDefaults()
	assert.Equal(t, 0.0, o.Margin)
}

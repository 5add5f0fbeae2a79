package transcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "source.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func decodedSize(t *testing.T, b64 string) (int, int) {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func newTestTranscoder(t *testing.T) (*Transcoder, string) {
	dir := t.TempDir()
	return NewTranscoder(NewStdManipulator(filepath.Join(dir, "out")), 0, dir), dir
}

func TestTranscode_FullFrameIsDownscaled(t *testing.T) {
	tr, dir := newTestTranscoder(t)
	src := writePNG(t, dir, 2000, 1000)

	img, err := tr.Transcode(context.Background(), src, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 1024, img.Width)
	assert.Equal(t, 512, img.Height)
	w, h := decodedSize(t, img.Base64)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 512, h)
	assert.FileExists(t, PathFromURI(img.URI))
}

func TestTranscode_CropThenScale(t *testing.T) {
	tr, dir := newTestTranscoder(t)
	src := writePNG(t, dir, 2000, 1000)

	img, err := tr.Transcode(context.Background(), src, &crop.Rect{X: 0.1, Y: 0.1, Width: 0.8, Height: 0.8}, 1024)
	require.NoError(t, err)

	// 1600x800 crop scaled to 1024 wide.
	assert.Equal(t, 1024, img.Width)
	assert.Equal(t, 512, img.Height)
}

func TestTranscode_NeverUpscales(t *testing.T) {
	tr, dir := newTestTranscoder(t)
	src := writePNG(t, dir, 400, 200)

	img, err := tr.Transcode(context.Background(), src, &crop.Rect{X: 0, Y: 0, Width: 0.5, Height: 1}, 1024)
	require.NoError(t, err)

	assert.Equal(t, 200, img.Width)
	assert.Equal(t, 200, img.Height)
	assert.NotEmpty(t, img.Base64)
}

func TestTranscode_MissingSourceIsTranscodeError(t *testing.T) {
	tr, dir := newTestTranscoder(t)

	_, err := tr.Transcode(context.Background(), filepath.Join(dir, "nope.jpg"), nil, 0)

	require.Error(t, err)
	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorTranscodeFailed))
}

func TestTranscodeBytes(t *testing.T) {
	tr, dir := newTestTranscoder(t)
	data, err := os.ReadFile(writePNG(t, dir, 300, 300))
	require.NoError(t, err)

	img, err := tr.TranscodeBytes(context.Background(), data, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Width)

	_, err = tr.TranscodeBytes(context.Background(), nil, nil, 0)
	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorTranscodeFailed))
}

type stubManipulator struct {
	calls [][]Action
}

func (s *stubManipulator) Manipulate(_ context.Context, uri string, actions []Action, opts SaveOptions) (*ManipulateResult, error) {
	s.calls = append(s.calls, actions)
	return &ManipulateResult{URI: uri, Width: 100, Height: 100}, nil
}

func TestTranscode_MissingBase64IsTranscodeError(t *testing.T) {
	stub := &stubManipulator{}
	tr := NewTranscoder(stub, 0, t.TempDir())

	_, err := tr.Transcode(context.Background(), "file:///tmp/x.jpg", nil, 0)

	require.Error(t, err)
	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorTranscodeFailed))
	require.Len(t, stub.calls, 2)
	assert.Empty(t, stub.calls[0])
	assert.Empty(t, stub.calls[1], "100px image needs neither crop nor resize")
}

func TestPixelCrop(t *testing.T) {
	testCases := []struct {
		name          string
		rect          crop.Rect
		width, height int
		want          CropAction
	}{
		{"full frame", crop.Rect{X: 0, Y: 0, Width: 1, Height: 1}, 640, 480, CropAction{0, 0, 640, 480}},
		{"rounds", crop.Rect{X: 0.333, Y: 0.333, Width: 0.667, Height: 0.667}, 100, 100, CropAction{33, 33, 67, 67}},
		{"clamped to bounds", crop.Rect{X: 0.9, Y: 0.9, Width: 0.1, Height: 0.1}, 15, 15, CropAction{14, 14, 1, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PixelCrop(tc.rect, tc.width, tc.height)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := PixelCrop(crop.Rect{X: 0.99, Y: 0, Width: 0.1, Height: 0.1}, 10, 10)
	assert.Error(t, err)
}

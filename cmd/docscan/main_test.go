package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestResolveCrop(t *testing.T) {
	rect, err := resolveCrop("", "")
	require.NoError(t, err)
	assert.Nil(t, rect)

	rect, err = resolveCrop("0.1, 0.2, 0.5, 0.5", "")
	require.NoError(t, err)
	assert.Equal(t, &crop.Rect{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.5}, rect)

	rect, err = resolveCrop("", "crop")
	require.NoError(t, err)
	assert.Equal(t, crop.DefaultRect(crop.ModeCrop), *rect)

	_, err = resolveCrop("0.8,0.8,0.5,0.5", "")
	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorInvalidCropGeometry))

	_, err = resolveCrop("1,2,3", "")
	assert.Error(t, err)

	_, err = resolveCrop("a,b,c,d", "")
	assert.Error(t, err)

	_, err = resolveCrop("", "zoom")
	assert.Error(t, err)
}

func TestEnqueuePayload(t *testing.T) {
	opts := &enqueueOptions{userID: "u1", jobID: "j1", mode: "preview"}

	job, err := opts.payload("https://files/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://files/x.jpg", job.ImageURL)
	assert.Equal(t, "j1", job.JobID)
	require.NotNil(t, job.Crop)

	job, err = opts.payload("/data/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/data/x.jpg", job.ImagePath)

	path := filepath.Join(t.TempDir(), "x.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o600))
	inline := &enqueueOptions{inline: true}
	job, err = inline.payload(path)
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID, "job id generated")
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, job.ImageBytes)
	assert.Empty(t, job.ImagePath)
}

func TestPDFTextCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.txt")
	outPath := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(in, []byte("Meeting notes\nAction items"), 0o600))

	out, err := run(t, "pdf", "text", in, "-o", outPath, "--title", "Notes")
	require.NoError(t, err)
	assert.Contains(t, out, "PDF created")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	_, err = run(t, "pdf", "text", in, "-o", outPath)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "pdf", "text", in, "-o", outPath, "--overwrite")
	assert.NoError(t, err)
}

func TestPDFRequiresOutput(t *testing.T) {
	in := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o600))

	_, err := run(t, "pdf", "text", in)
	assert.ErrorContains(t, err, "--output")
}

func TestHistoryRequiresUser(t *testing.T) {
	_, err := run(t, "history", "list")
	assert.ErrorContains(t, err, "--user")
}

func TestHistoryClearRequiresConfirmation(t *testing.T) {
	_, err := run(t, "history", "clear", "--user", "u1")
	assert.ErrorContains(t, err, "--yes")
}

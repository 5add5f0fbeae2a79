package result

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/ocr"
	"github.com/adverant/nexus/docscan-worker/internal/title"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

var (
	fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testImage = &transcode.TranscodedImage{URI: "file:///tmp/a.jpg", Base64: "QUJD", Width: 1024, Height: 768}
)

func fixedAssembler() *Assembler {
	return &Assembler{
		Now:   func() time.Time { return fixedTime },
		NewID: func() string { return "scan-1" },
	}
}

func TestAssemble_DerivesTitle(t *testing.T) {
	p := fixedAssembler().Assemble(testImage, &ocr.Result{Text: "Invoice #123 Acme Corp", ProviderUsed: ocr.ProviderFallback}, "")

	assert.Equal(t, &Payload{
		ID:          "scan-1",
		ImageURI:    "file:///tmp/a.jpg",
		ImageBase64: "QUJD",
		Width:       1024,
		Height:      768,
		Text:        "Invoice #123 Acme Corp",
		Title:       "Invoice 123 Acme",
		Preview:     "Invoice #123 Acme Corp",
		Provider:    ocr.ProviderFallback,
		CreatedAt:   fixedTime,
	}, p)
}

func TestAssemble_OverrideWins(t *testing.T) {
	p := fixedAssembler().Assemble(testImage, &ocr.Result{Text: "whatever text"}, "  My Receipt ")
	assert.Equal(t, "My Receipt", p.Title)

	p = fixedAssembler().Assemble(testImage, &ocr.Result{Text: "whatever text"}, "   ")
	assert.Equal(t, "whatever text", p.Title)
}

func TestAssemble_SentinelHasEmptyTitle(t *testing.T) {
	p := fixedAssembler().Assemble(testImage, &ocr.Result{Text: title.NoTextDetected, ProviderUsed: ocr.ProviderPrimary}, "")
	assert.Empty(t, p.Title)
	assert.Equal(t, title.NoTextDetected, p.Text)
}

func TestAssemble_PreviewIsTruncated(t *testing.T) {
	long := strings.Repeat("é", 150)
	p := fixedAssembler().Assemble(testImage, &ocr.Result{Text: long}, "")
	assert.Equal(t, PreviewLength, len([]rune(p.Preview)))
}

func TestNewAssembler_StampsUUID(t *testing.T) {
	p := NewAssembler().Assemble(testImage, &ocr.Result{Text: "x"}, "")
	_, err := uuid.Parse(p.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, p.CreatedAt.Location())
}

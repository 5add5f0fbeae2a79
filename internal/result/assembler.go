// Package result packages a finished scan for display and persistence.
package result

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docscan-worker/internal/ocr"
	"github.com/adverant/nexus/docscan-worker/internal/title"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

// PreviewLength is the number of runes kept in Payload.Preview.
const PreviewLength = 100

// Payload is the final output of a scan.
type Payload struct {
	ID          string    `json:"id"`
	ImageURI    string    `json:"imageUri"`
	ImageBase64 string    `json:"imageBase64,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	Preview     string    `json:"preview"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Assembler builds payloads. Now and NewID are swappable for tests.
type Assembler struct {
	Now   func() time.Time
	NewID func() string
}

// NewAssembler returns an assembler stamping wall-clock time and random UUIDs.
func NewAssembler() *Assembler {
	return &Assembler{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

// Assemble combines the transcoded image and OCR result. A non-blank
// titleOverride wins over the derived title.
func (a *Assembler) Assemble(img *transcode.TranscodedImage, res *ocr.Result, titleOverride string) *Payload {
	docTitle := strings.TrimSpace(titleOverride)
	if docTitle == "" {
		docTitle = title.DeriveTitle(res.Text)
	}

	return &Payload{
		ID:          a.NewID(),
		ImageURI:    img.URI,
		ImageBase64: img.Base64,
		Width:       img.Width,
		Height:      img.Height,
		Text:        res.Text,
		Title:       docTitle,
		Preview:     title.Preview(res.Text, PreviewLength),
		Provider:    res.ProviderUsed,
		CreatedAt:   a.Now().UTC(),
	}
}

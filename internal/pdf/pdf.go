/**
 * PDF Export
 *
 * Builds the two documents users can export:
 * - a text PDF of an extracted scan (title header, date, wrapped body)
 * - an image PDF with one scanned page per sheet, fit inside the margins
 */

package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"

	// Register decoders for pages captured as WebP.
	_ "golang.org/x/image/webp"
)

// PageSize is a supported sheet format.
type PageSize string

const (
	PageA4     PageSize = "A4"
	PageLetter PageSize = "Letter"
)

// Orientation of the sheet.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// DefaultMargin is the sheet margin in points.
const DefaultMargin = 36.0

// DefaultTextTitle heads text exports that have no title of their own.
const DefaultTextTitle = "Scanned Document"

// Options controls the sheet layout.
type Options struct {
	Title       string
	PageSize    PageSize
	Orientation Orientation
	Margin      float64 // points; 0 selects DefaultMargin, negative means none
}

// Document is a rendered PDF.
type Document struct {
	Data      []byte
	PageCount int
}

func (o Options) withDefaults() Options {
	if o.PageSize != PageLetter {
		o.PageSize = PageA4
	}
	if o.Orientation != Landscape {
		o.Orientation = Portrait
	}
	switch {
	case o.Margin == 0:
		o.Margin = DefaultMargin
	case o.Margin < 0:
		o.Margin = 0
	}
	return o
}

func newDocument(o Options) *fpdf.Fpdf {
	orientation := "P"
	if o.Orientation == Landscape {
		orientation = "L"
	}
	doc := fpdf.New(orientation, "pt", string(o.PageSize), "")
	doc.SetMargins(o.Margin, o.Margin, o.Margin)
	doc.SetAutoPageBreak(true, o.Margin)
	doc.SetCreator("docscan", true)
	if o.Title != "" {
		doc.SetTitle(o.Title, true)
	}
	return doc
}

func render(doc *fpdf.Fpdf) (*Document, error) {
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return &Document{Data: buf.Bytes(), PageCount: doc.PageCount()}, nil
}

// TextToPDF renders text under a title and date header. Long text flows
// onto as many pages as needed.
func TextToPDF(title, text string, date time.Time, opts Options) (*Document, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTextTitle
	}
	opts.Title = title
	opts = opts.withDefaults()

	doc := newDocument(opts)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	pageW, _ := doc.GetPageSize()
	contentW := pageW - 2*opts.Margin

	// Header
	doc.SetFont("Helvetica", "B", 20)
	doc.SetTextColor(0, 122, 255)
	doc.CellFormat(contentW, 26, tr(title), "", 1, "C", false, 0, "")

	doc.SetFont("Helvetica", "", 11)
	doc.SetTextColor(102, 102, 102)
	doc.CellFormat(contentW, 16, date.Format("January 2, 2006"), "", 1, "C", false, 0, "")

	y := doc.GetY() + 8
	doc.SetDrawColor(0, 122, 255)
	doc.SetLineWidth(1.5)
	doc.Line(opts.Margin, y, pageW-opts.Margin, y)
	doc.SetY(y + 16)

	// Body
	doc.SetFont("Helvetica", "", 12)
	doc.SetTextColor(51, 51, 51)
	doc.MultiCell(contentW, 18, tr(normalizeNewlines(text)), "", "L", false)

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("failed to lay out text: %w", err)
	}
	return render(doc)
}

// ImagesToPDF places each image on its own page, scaled to fit inside the
// margins and centered. JPEG and PNG are embedded as-is; other decodable
// formats are re-encoded as PNG first.
func ImagesToPDF(images [][]byte, opts Options) (*Document, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("at least one image is required")
	}
	opts = opts.withDefaults()

	doc := newDocument(opts)
	doc.SetAutoPageBreak(false, 0)

	pageW, pageH := doc.GetPageSize()
	boxW := pageW - 2*opts.Margin
	boxH := pageH - 2*opts.Margin

	for i, data := range images {
		imageType, data, err := embeddable(data)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}

		name := fmt.Sprintf("page%d", i)
		imgOpts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
		info := doc.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(data))
		if err := doc.Error(); err != nil {
			return nil, fmt.Errorf("image %d: failed to register: %w", i+1, err)
		}

		w, h := fitRect(info.Width(), info.Height(), boxW, boxH)
		x := opts.Margin + (boxW-w)/2
		y := opts.Margin + (boxH-h)/2

		doc.AddPage()
		doc.ImageOptions(name, x, y, w, h, false, imgOpts, 0, "")
	}

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("failed to lay out images: %w", err)
	}
	return render(doc)
}

// embeddable returns the fpdf image type for data, converting formats fpdf
// cannot read.
func embeddable(data []byte) (string, []byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode image config: %w", err)
	}

	switch format {
	case "jpeg", "png":
		return strings.ToUpper(format), data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, fmt.Errorf("failed to convert %s image: %w", format, err)
	}
	return "PNG", buf.Bytes(), nil
}

// fitRect scales w x h to the largest size fitting inside boxW x boxH while
// keeping the aspect ratio. Images are scaled up as well as down.
func fitRect(w, h, boxW, boxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return boxW, boxH
	}
	scale := boxW / w
	if s := boxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

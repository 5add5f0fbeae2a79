package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/pdf"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

type pdfOptions struct {
	output      string
	title       string
	pageSize    string
	orientation string
	userID      string
	overwrite   bool
}

func newPDFCommand(global *globalOptions) *cobra.Command {
	opts := &pdfOptions{}

	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Build PDFs from extracted text or page images",
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.output, "output", "o", "", "output PDF path (required)")
	pf.StringVar(&opts.title, "title", "", "document title")
	pf.StringVar(&opts.pageSize, "size", string(pdf.PageA4), "page size: A4 or Letter")
	pf.StringVar(&opts.orientation, "orientation", string(pdf.Portrait), "portrait or landscape")
	pf.StringVar(&opts.userID, "user", "", "record the PDF in this user's history")
	pf.BoolVar(&opts.overwrite, "overwrite", false, "overwrite the output file if it exists")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "text <file|->",
			Short: "Render a text file (or stdin) as a titled PDF",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text, err := readTextInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				doc, err := pdf.TextToPDF(opts.title, text, time.Now(), opts.layout())
				if err != nil {
					return err
				}
				title := opts.title
				if strings.TrimSpace(title) == "" {
					title = pdf.DefaultTextTitle
				}
				return writePDF(cmd, global, opts, title, doc)
			},
		},
		&cobra.Command{
			Use:   "images <image>...",
			Short: "Place each image on its own page",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				images := make([][]byte, 0, len(args))
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read image %s: %w", path, err)
					}
					images = append(images, data)
				}
				layout := opts.layout()
				layout.Title = opts.title
				doc, err := pdf.ImagesToPDF(images, layout)
				if err != nil {
					return err
				}
				title := opts.title
				if strings.TrimSpace(title) == "" {
					title = fmt.Sprintf("Scanned Document (%d pages)", doc.PageCount)
				}
				return writePDF(cmd, global, opts, title, doc)
			},
		},
	)
	return cmd
}

func (o *pdfOptions) layout() pdf.Options {
	return pdf.Options{
		PageSize:    pdf.PageSize(o.pageSize),
		Orientation: pdf.Orientation(strings.ToLower(o.orientation)),
	}
}

func readTextInput(stdin io.Reader, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return string(data), nil
}

func writePDF(cmd *cobra.Command, global *globalOptions, opts *pdfOptions, title string, doc *pdf.Document) error {
	if opts.output == "" {
		return fmt.Errorf("--output is required")
	}
	if _, err := os.Stat(opts.output); err == nil && !opts.overwrite {
		return fmt.Errorf("output file %s already exists, use --overwrite to replace it", opts.output)
	}
	if err := os.WriteFile(opts.output, doc.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.output, err)
	}

	var record *storage.PDFRecord
	if opts.userID != "" {
		services, err := buildApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer services.Close()

		history, err := services.RequireHistory()
		if err != nil {
			return err
		}
		pdfURL, err := pdfLocation(cmd, services.Artifacts, opts, doc)
		if err != nil {
			return err
		}
		record, err = history.SavePDF(cmd.Context(), &storage.NewPDFInput{
			UserID:    opts.userID,
			Title:     title,
			PDFURL:    pdfURL,
			PageCount: doc.PageCount,
		})
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if global.jsonOut {
		return printJSON(out, map[string]interface{}{
			"output":    opts.output,
			"pageCount": doc.PageCount,
			"bytes":     len(doc.Data),
			"record":    record,
		})
	}
	okColor.Fprintf(out, "PDF created: %s ", opts.output)
	labelColor.Fprintf(out, "(%d pages, %d bytes)\n", doc.PageCount, len(doc.Data))
	if record != nil {
		printField(out, "Saved", record.ID)
		printField(out, "URL", record.PDFURL)
	}
	return nil
}

// pdfLocation uploads the PDF when a file store is configured and falls back
// to a file:// URL of the local copy.
func pdfLocation(cmd *cobra.Command, store *clients.ArtifactClient, opts *pdfOptions, doc *pdf.Document) (string, error) {
	abs, err := filepath.Abs(opts.output)
	if err != nil {
		return "", err
	}
	if store == nil {
		return "file://" + abs, nil
	}

	url, err := store.UploadFile(cmd.Context(), opts.userID, filepath.Base(abs), "application/pdf", doc.Data)
	if err != nil {
		warnColor.Fprintf(cmd.ErrOrStderr(), "Upload failed, keeping local path: %v\n", err)
		return "file://" + abs, nil
	}
	return url, nil
}

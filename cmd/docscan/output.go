package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgHiBlack)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printField(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "%-10s ", label+":")
	fmt.Fprintln(w, value)
}

// printError shows the user-facing message of scan errors and the raw
// error for everything else.
func printError(err error) {
	if code := scanerrors.CodeOf(err); code != "" {
		errorColor.Fprintf(os.Stderr, "Error [%s]: ", code)
		fmt.Fprintln(os.Stderr, scanerrors.UserMessage(err))
		labelColor.Fprintln(os.Stderr, err.Error())
		return
	}
	errorColor.Fprint(os.Stderr, "Error: ")
	fmt.Fprintln(os.Stderr, err)
}

func printHistory(w io.Writer, items []storage.HistoryItem) {
	if len(items) == 0 {
		warnColor.Fprintln(w, "No history yet.")
		return
	}
	for _, item := range items {
		kind := okColor.Sprint("scan")
		if item.Kind == storage.HistoryPDF {
			kind = headingColor.Sprint("pdf ")
		}
		fmt.Fprintf(w, "%s  %s  %s\n", kind, labelColor.Sprint(item.CreatedAt.Local().Format(time.DateTime)), item.Title)
		labelColor.Fprintf(w, "      %s  %s\n", item.ID, item.Subtitle)
	}
}

func printScans(w io.Writer, scans []storage.ScanRecord) {
	if len(scans) == 0 {
		warnColor.Fprintln(w, "No matching scans.")
		return
	}
	for _, s := range scans {
		fmt.Fprintf(w, "%s  %s\n", labelColor.Sprint(s.CreatedAt.Local().Format(time.DateTime)), s.Title)
		labelColor.Fprintf(w, "      %s  %s\n", s.ID, s.Preview)
	}
}

func printScoredScans(w io.Writer, scans []storage.ScoredScan) {
	if len(scans) == 0 {
		warnColor.Fprintln(w, "No matching scans.")
		return
	}
	for _, s := range scans {
		fmt.Fprintf(w, "%s  %s\n", okColor.Sprintf("%.3f", s.Score), s.Title)
		labelColor.Fprintf(w, "       %s  %s\n", s.ID, s.Preview)
	}
}

package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
)

type scanOptions struct {
	crop        string
	mode        string
	title       string
	targetWidth int
	userID      string
	save        bool
}

func newScanCommand(global *globalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Crop, transcode and extract text from a local image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rect, err := resolveCrop(opts.crop, opts.mode)
			if err != nil {
				return err
			}
			if opts.save && opts.userID == "" {
				return fmt.Errorf("--save requires --user")
			}

			services, err := buildApp(cmd.Context(), opts.save)
			if err != nil {
				return err
			}
			defer services.Close()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			req := &processor.ScanRequest{
				JobID:         uuid.New().String(),
				ImagePath:     path,
				Crop:          rect,
				TitleOverride: opts.title,
				TargetWidth:   opts.targetWidth,
			}
			if opts.save {
				req.UserID = opts.userID
			}

			res, err := services.Processor.ProcessScan(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if global.jsonOut {
				res.Payload.ImageBase64 = ""
				return printJSON(out, res)
			}

			headingColor.Fprintln(out, res.Payload.Title)
			printField(out, "Provider", res.Payload.Provider)
			printField(out, "Size", fmt.Sprintf("%dx%d", res.Payload.Width, res.Payload.Height))
			printField(out, "Image", res.ImageURL)
			printField(out, "Time", fmt.Sprintf("%dms", res.ProcessingTimeMs))
			if res.Saved {
				printField(out, "Saved", okColor.Sprint(res.ScanID))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, res.Payload.Text)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.crop, "crop", "", "crop rectangle as x,y,width,height relative to the image (0..1)")
	f.StringVar(&opts.mode, "mode", "", "use the default rectangle of a crop mode (preview or crop) when --crop is not set")
	f.StringVar(&opts.title, "title", "", "title to use instead of deriving one from the text")
	f.IntVar(&opts.targetWidth, "width", 0, "maximum output width in pixels (default from TARGET_WIDTH)")
	f.StringVar(&opts.userID, "user", "", "user the scan belongs to")
	f.BoolVar(&opts.save, "save", false, "save the scan to the user's history")
	return cmd
}

// resolveCrop returns the rectangle from an explicit --crop value, the
// default of --mode, or nil for the full frame. Explicit rectangles are
// validated, not silently clamped.
func resolveCrop(value, mode string) (*crop.Rect, error) {
	if value != "" {
		rect, err := parseCrop(value)
		if err != nil {
			return nil, err
		}
		if err := crop.Validate(rect); err != nil {
			return nil, err
		}
		return &rect, nil
	}

	switch crop.Mode(mode) {
	case "":
		return nil, nil
	case crop.ModePreview, crop.ModeCrop:
		rect := crop.DefaultRect(crop.Mode(mode))
		return &rect, nil
	default:
		return nil, fmt.Errorf("unknown crop mode %q (want %q or %q)", mode, crop.ModePreview, crop.ModeCrop)
	}
}

func parseCrop(value string) (crop.Rect, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return crop.Rect{}, fmt.Errorf("--crop needs four comma-separated numbers, got %q", value)
	}

	var nums [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return crop.Rect{}, fmt.Errorf("--crop value %q is not a number", p)
		}
		nums[i] = n
	}
	return crop.Rect{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}, nil
}

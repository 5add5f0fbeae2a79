package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/queue"
)

type enqueueOptions struct {
	userID string
	jobID  string
	crop   string
	mode   string
	title  string
	inline bool
}

func newEnqueueCommand(global *globalOptions) *cobra.Command {
	opts := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue <image-path|url>",
		Short: "Submit a scan job to the worker queue",
		Long: "Submit a scan job to the worker queue. Re-using the --job id of a failed job\n" +
			"retries the whole scan chain.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			job, err := opts.payload(args[0])
			if err != nil {
				return err
			}

			producer, err := newProducer(cfg)
			if err != nil {
				return err
			}
			defer producer.Close()

			id, err := producer.Enqueue(cmd.Context(), job)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if global.jsonOut {
				return printJSON(out, map[string]string{"jobId": job.JobID, "taskId": id, "queue": cfg.QueueName})
			}
			okColor.Fprintf(out, "Enqueued %s ", job.JobID)
			labelColor.Fprintf(out, "on %s (%s)\n", cfg.QueueName, cfg.QueueTransport)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.userID, "user", "", "user the scan belongs to (empty for a guest scan)")
	f.StringVar(&opts.jobID, "job", "", "job id (default: a new UUID)")
	f.StringVar(&opts.crop, "crop", "", "crop rectangle as x,y,width,height relative to the image (0..1)")
	f.StringVar(&opts.mode, "mode", "", "use the default rectangle of a crop mode when --crop is not set")
	f.StringVar(&opts.title, "title", "", "title to use instead of deriving one from the text")
	f.BoolVar(&opts.inline, "inline", false, "send the image bytes in the job instead of its path")
	return cmd
}

func (o *enqueueOptions) payload(source string) (*queue.ScanJobPayload, error) {
	rect, err := resolveCrop(o.crop, o.mode)
	if err != nil {
		return nil, err
	}

	job := &queue.ScanJobPayload{
		JobID:         o.jobID,
		UserID:        o.userID,
		Crop:          rect,
		TitleOverride: o.title,
	}
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	switch {
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		job.ImageURL = source
	case o.inline:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", source, err)
		}
		job.ImageBytes = data
	default:
		job.ImagePath = source
	}

	return job, job.Validate()
}

func newProducer(cfg *config.Config) (queue.Enqueuer, error) {
	if cfg.QueueTransport == config.TransportAsynq {
		return queue.NewProducer(cfg.RedisURL, cfg.QueueName)
	}
	return queue.NewRedisProducer(cfg.RedisURL, cfg.QueueName)
}

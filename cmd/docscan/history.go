package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

type historyOptions struct {
	userID      string
	listLimit   int
	searchLimit int
	semantic    bool
	pdf         bool
	yes         bool
}

func newHistoryCommand(global *globalOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, search and delete saved scans and PDFs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if opts.userID == "" {
				return fmt.Errorf("--user is required")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.userID, "user", "", "user whose history to use (required)")

	// withHistory runs fn against the user's history store.
	withHistory := func(cmd *cobra.Command, fn func(*storage.StorageManager) error) error {
		services, err := buildApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer services.Close()

		history, err := services.RequireHistory()
		if err != nil {
			return err
		}
		return fn(history)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show scans and PDFs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *storage.StorageManager) error {
				items, err := h.ListAllHistory(cmd.Context(), opts.userID, opts.listLimit)
				if err != nil {
					return err
				}
				if global.jsonOut {
					return printJSON(cmd.OutOrStdout(), items)
				}
				printHistory(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	list.Flags().IntVar(&opts.listLimit, "limit", storage.DefaultHistoryLimit, "maximum number of entries")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Find scans by text, or by meaning with --semantic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withHistory(cmd, func(h *storage.StorageManager) error {
				out := cmd.OutOrStdout()
				if opts.semantic {
					hits, err := h.SemanticSearch(cmd.Context(), opts.userID, query, opts.searchLimit)
					if err != nil {
						return err
					}
					if global.jsonOut {
						return printJSON(out, hits)
					}
					printScoredScans(out, hits)
					return nil
				}

				scans, err := h.SearchScans(cmd.Context(), opts.userID, query, opts.searchLimit)
				if err != nil {
					return err
				}
				if global.jsonOut {
					return printJSON(out, scans)
				}
				printScans(out, scans)
				return nil
			})
		},
	}
	search.Flags().IntVar(&opts.searchLimit, "limit", 10, "maximum number of results")
	search.Flags().BoolVar(&opts.semantic, "semantic", false, "rank by embedding similarity (needs Qdrant and VoyageAI)")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one scan (or PDF with --pdf)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *storage.StorageManager) error {
				var err error
				if opts.pdf {
					err = h.DeletePDF(cmd.Context(), opts.userID, args[0])
				} else {
					err = h.DeleteScan(cmd.Context(), opts.userID, args[0])
				}
				if err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVar(&opts.pdf, "pdf", false, "the id is a PDF, not a scan")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all of the user's scans and PDFs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			return withHistory(cmd, func(h *storage.StorageManager) error {
				if err := h.ClearHistory(cmd.Context(), opts.userID); err != nil {
					return err
				}
				warnColor.Fprintf(cmd.OutOrStdout(), "Cleared history of %s\n", opts.userID)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&opts.yes, "yes", false, "confirm deleting everything")

	cmd.AddCommand(list, search, del, clearCmd)
	return cmd
}

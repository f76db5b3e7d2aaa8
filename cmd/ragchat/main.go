package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/config"
	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ragchat:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var env string

	rootCmd := &cobra.Command{
		Use:           "ragchat",
		Short:         "Chat over your documents with a local LLM",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), env)
		},
	}
	rootCmd.PersistentFlags().StringVar(&env, "env", config.GetEnv(), "Config environment (config/<env>.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), env)
			},
		},
		&cobra.Command{
			Use:   "ingest <file>...",
			Short: "Add documents to the knowledge base",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), env, func(a *app) error {
					return runIngest(cmd, a, args)
				})
			},
		},
		&cobra.Command{
			Use:   "sources",
			Short: "List ingested documents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), env, func(a *app) error {
					return runSources(cmd, a)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <source>",
			Short: "Remove a document and its chunks",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), env, func(a *app) error {
					if err := a.ingest.Delete(cmd.Context(), args[0]); err != nil {
						return fmt.Errorf("delete %s: %w", args[0], err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Document '%s' deleted from knowledge base.\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the knowledge base",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), env, func(a *app) error {
					if err := a.ingest.ClearAll(cmd.Context()); err != nil {
						return fmt.Errorf("clear knowledge base: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Knowledge base cleared successfully.")
					return nil
				})
			},
		},
	)
	return rootCmd
}

func withApp(ctx context.Context, env string, fn func(*app) error) error {
	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.close()

	if err := fn(a); err != nil {
		a.logger.Debug("Command failed", zap.Error(err))
		return err
	}
	return nil
}

// runIngest copies each file into the inbox so the original stays in place.
func runIngest(cmd *cobra.Command, a *app, paths []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		res, err := ingestFile(cmd.Context(), a, path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: %d chunks added as '%s'\n", path, res.ChunksAdded, res.Source)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

func ingestFile(ctx context.Context, a *app, path string) (domain.IngestResult, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	return a.ingest.Upload(ctx, filepath.Base(path), f) //nolint:wrapcheck // already wrapped by ingest
}

func runSources(cmd *cobra.Command, a *app) error {
	sources, chunks, err := a.ingest.Inventory(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, s := range sources {
		fmt.Fprintln(tw, s)
	}
	fmt.Fprintf(tw, "\n%d documents\t%d chunks\n", len(sources), chunks)
	return tw.Flush() //nolint:wrapcheck // stdout
}

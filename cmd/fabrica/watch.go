package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/fabrica/client"
)

func watchCmd(configPath *string) *cobra.Command {
	var (
		serverURL string
		apiKey    string
		name      string
		outDir    string
	)

	cmd := &cobra.Command{
		Use:   "watch [brief]",
		Short: "Generate an artifact and follow its progress live",
		Long: `Watch opens a generation session and follows it to completion,
printing progress as it streams. Transport drops are retried with
backoff; partial results are kept across reconnects. On success the
finished files are written under the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWatch(*configPath, serverURL, apiKey, name, outDir, args[0])
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8787", "Server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token for the server")
	cmd.Flags().StringVar(&name, "name", "", "Artifact name")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write finished files into")

	return cmd
}

func runWatch(configPath, serverURL, apiKey, name, outDir, brief string) error {
	logger := slog.Default()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiKey == "" {
		return fmt.Errorf("--api-key is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	terminal := make(chan client.State, 1)
	var lastStatus string

	c := client.NewClient(serverURL, apiKey, brief,
		client.WithName(name),
		client.WithClientLogger(logger),
		client.WithReconnectPolicy(cfg.Client),
		client.WithOnUpdate(func(st client.State) {
			if st.StatusLine != "" && st.StatusLine != lastStatus {
				lastStatus = st.StatusLine
				fmt.Fprintf(os.Stderr, "[%s] %s\n", st.Phase, st.StatusLine)
			}
			if st.Terminal() {
				select {
				case terminal <- st:
				default:
				}
			}
		}),
	)
	defer c.Stop()

	if err := c.Start(ctx); err != nil {
		return err
	}

	var final client.State
	select {
	case final = <-terminal:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "interrupted")
		return nil
	}

	if final.Phase == client.PhaseError {
		// Write whatever arrived before giving up
		if len(final.Files) > 0 {
			if werr := writeFiles(outDir, final.Files); werr != nil {
				logger.Warn("Failed to write partial files", "error", werr)
			} else {
				fmt.Fprintf(os.Stderr, "wrote %d partial file(s) to %s\n", len(final.Files), outDir)
			}
		}
		return fmt.Errorf("%s", final.Err)
	}

	if err := writeFiles(outDir, final.Files); err != nil {
		return err
	}
	fmt.Printf("done: %d file(s) written to %s (quality %d)\n",
		len(final.Files), outDir, final.QualityScore)
	return nil
}

// writeFiles writes the artifact file map under dir. Paths are already
// validated server-side; re-check here anyway before touching disk.
func writeFiles(dir string, files map[string]string) error {
	for path, content := range files {
		clean := filepath.Clean(path)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("refusing to write outside output directory: %s", path)
		}

		target := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

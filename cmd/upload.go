// File: cmd/upload.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/observability"
	"github.com/xkilldash9x/batchpilot/internal/upload"
)

// newUploadCmd creates the `upload` command, which submits an existing result artifact.
func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <artifact>",
		Short: "Upload an existing result artifact to the test management system",
		Long: `Runs the initiate, upload and track protocol for a result artifact produced by an
earlier run, e.g. reports/<timestamp>/RunReport_<timestamp>.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			_, err = runUpload(ctx, cfg.Upload, nil, observability.GetLogger(), cmd.OutOrStdout(), args[0])
			return err
		},
	}
}

// runUpload forces the upload on regardless of upload.enabled; invoking the command is the opt-in.
func runUpload(ctx context.Context, cfg config.UploadConfig, httpClient *http.Client, logger *zap.Logger, out io.Writer, artifact string) (*upload.Job, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("upload configuration invalid: %w", err)
	}

	job, err := upload.NewClient(cfg, httpClient, logger).Upload(ctx, artifact)
	if job != nil {
		fmt.Fprintf(out, "Upload %s: tracking id %q after %d poll(s)\n", job.Phase, job.TrackingID, job.Attempts)
		if job.Reason != "" {
			fmt.Fprintf(out, "Reason: %s\n", job.Reason)
		}
	}
	if err != nil {
		return job, err
	}
	if job != nil && job.Phase == upload.PhaseTimedOut {
		return job, fmt.Errorf("import of %s not confirmed after %d polls", artifact, job.Attempts)
	}
	return job, nil
}

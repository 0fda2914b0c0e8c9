// Package cli implements the pactl operator commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type globalOptions struct {
	apiURL  string
	timeout time.Duration
	json    bool
}

func (o *globalOptions) client() *Client {
	return NewClient(o.apiURL, o.timeout)
}

// NewRootCmd builds the pactl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "pactl",
		Short:         "Operate the prior-authorization evaluation service",
		Long:          `pactl ingests policy and clinical documents, triggers evaluations and reports their determinations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apiURL := os.Getenv("PACTL_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", apiURL, "Base URL of the prior-auth API (env PACTL_API_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Per-request HTTP timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newIngestCmd(opts),
		newSeedCmd(opts),
		newEvaluateCmd(opts),
		newStatusCmd(opts),
		newMCPCmd(version),
	)
	return root
}

// Execute runs pactl with os.Args; SIGINT and SIGTERM cancel the command context.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(version).ExecuteContext(ctx)
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	var (
		patientID    string
		cptCode      string
		payer        string
		noWait       bool
		pollInterval time.Duration
		waitTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Trigger an evaluation and wait for the determination",
		Long: `Trigger a prior-authorization evaluation and poll until it completes or fails.

Example:
  pactl evaluate --patient-id P-001 --cpt-code 95810 --payer Aetna`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := opts.client()
			requestID, err := client.TriggerEvaluation(cmd.Context(), patientID, cptCode, payer)
			if err != nil {
				return fmt.Errorf("trigger evaluation: %w", err)
			}
			if noWait {
				if opts.json {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(domain.EvaluationView{RequestID: requestID, Status: domain.RequestPending})
				}
				cmd.Printf("Request %s is pending\n", requestID)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
			defer cancel()
			view, err := waitForEvaluation(ctx, client, requestID, pollInterval)
			if err != nil {
				return err
			}
			if err := printEvaluation(cmd, view, opts.json); err != nil {
				return err
			}
			if view.Status == domain.RequestError {
				return fmt.Errorf("evaluation %s failed", requestID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient-id", "", "Patient identifier")
	cmd.Flags().StringVar(&cptCode, "cpt-code", "", "Five character CPT code")
	cmd.Flags().StringVar(&payer, "payer", "", "Payer name")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after triggering without polling")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "Delay between status polls")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "Give up polling after this long")
	_ = cmd.MarkFlagRequired("patient-id")
	_ = cmd.MarkFlagRequired("cpt-code")
	_ = cmd.MarkFlagRequired("payer")
	return cmd
}

func waitForEvaluation(ctx context.Context, client *Client, requestID string, interval time.Duration) (*domain.EvaluationView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := client.GetEvaluation(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("poll evaluation %s: %w", requestID, err)
		}
		if view.Status.Terminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("evaluation %s still pending: %w", requestID, ctx.Err())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [request-id]",
		Short: "Show the status and determination of an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := opts.client().GetEvaluation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get evaluation: %w", err)
			}
			return printEvaluation(cmd, view, opts.json)
		},
	}
}

func printEvaluation(cmd *cobra.Command, view *domain.EvaluationView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	cmd.Printf("Request: %s\n", view.RequestID)
	cmd.Printf("Status:  %s\n", view.Status)
	det := view.Determination
	if det == nil {
		return nil
	}

	cmd.Printf("Recommendation: %s (score %.2f)\n", det.Recommendation, det.ProbabilityScore)
	if len(det.CriteriaResults) > 0 {
		cmd.Println("Criteria:")
		for _, cr := range det.CriteriaResults {
			mark := "unmet"
			if cr.Met {
				mark = "met"
			}
			cmd.Printf("  [%-5s] %s (confidence %.2f)\n", mark, cr.Criterion, cr.Confidence)
			if cr.PolicyCitation != "" {
				cmd.Printf("          policy: %s\n", cr.PolicyCitation)
			}
			if cr.EvidenceQuote != nil {
				cmd.Printf("          evidence: %q\n", *cr.EvidenceQuote)
			}
		}
	}
	if len(det.MissingInfo) > 0 {
		cmd.Println("Missing information:")
		for _, item := range det.MissingInfo {
			cmd.Printf("  - %s\n", item)
		}
	}
	return nil
}

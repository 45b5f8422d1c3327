package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/metering"
	"github.com/Mindburn-Labs/weave/pkg/replay"
)

type runOptions struct {
	*rootOptions
	Height   uint64
	Full     bool
	TraceOut string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <contract-id>",
		Short: "Evaluate a contract and print its state",
		Long: `Evaluate a contract from its initial state through every known
interaction up to --height and print the resulting state and validity.

Examples:
  weave run --fixtures ./fixtures token-1
  weave run --fixtures ./fixtures --height 120 --trace-out run.trace token-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "evaluate up to this block height (0 for all)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "print the full evaluation result")
	cmd.Flags().StringVar(&opts.TraceOut, "trace-out", "", "write a per-interaction trace to this file")
	return cmd
}

func runRun(ctx context.Context, opts *runOptions, contractID string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	eng, err := opts.openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	var (
		res   *contracts.EvaluationResult
		steps []replay.Step
	)
	if opts.TraceOut != "" {
		res, steps, err = eng.exec.TraceContract(ctx, contractID, opts.Height)
	} else {
		res, err = eng.exec.ExecuteContract(ctx, contractID, opts.Height, nil)
	}
	if err != nil {
		return err
	}

	if opts.TraceOut != "" {
		f, err := os.Create(opts.TraceOut)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		if err := replay.WriteTrace(f, steps); err != nil {
			_ = f.Close()
			return fmt.Errorf("write trace: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if usage, err := eng.meter.GetUsage(ctx, contractID, metering.DailyPeriod()); err == nil {
		eng.logger.Debug("usage", "contract_id", contractID, "usage", usage)
	}

	if opts.Full {
		return writeJSON(opts.stdout, res)
	}
	return writeJSON(opts.stdout, struct {
		State    json.RawMessage        `json:"state"`
		Validity *contracts.ValidityMap `json:"validity"`
	}{State: res.State, Validity: res.Validity})
}

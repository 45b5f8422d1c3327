package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/weave/pkg/replay"
)

type verifyOptions struct {
	*rootOptions
	Trace  string
	Height uint64
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	opts := &verifyOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "verify <contract-id>",
		Short: "Replay a contract and compare against a recorded trace",
		Long: `Replay a contract from its initial state and compare every interaction's
transaction id, state digest and validity against a trace written by
'weave run --trace-out'.

Exit codes:
  0 - traces agree
  1 - replay diverged
  2 - command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Trace, "trace", "", "recorded trace file (required)")
	_ = cmd.MarkFlagRequired("trace")
	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "replay up to this block height (0 for all)")
	return cmd
}

func runVerify(ctx context.Context, opts *verifyOptions, contractID string) error {
	f, err := os.Open(opts.Trace)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	want, err := replay.ReadTrace(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	eng, err := opts.openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	_, got, err := eng.exec.TraceContract(ctx, contractID, opts.Height)
	if err != nil {
		return err
	}
	if d := replay.Compare(want, got); d != nil {
		_ = writeJSON(opts.stdout, d)
		return &exitError{code: ExitMismatch, err: d}
	}
	_, _ = fmt.Fprintf(opts.stdout, "ok: %d interactions match\n", len(got))
	return nil
}

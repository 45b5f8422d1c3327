package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/executor"
)

type simulateOptions struct {
	*rootOptions
	Interactions string
	Input        string
	Caller       string
	InitState    string
	ExmContext   string
	WithHistory  bool
	Height       uint64

	EXM        bool
	Lazy       bool
	ShowErrors bool
	TxDate     int64
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "simulate <contract-id>",
		Short: "Evaluate interactions that are not on the ledger",
		Long: `Evaluate a list of simulated interactions against a contract. By default
only the supplied interactions run, from the contract's initial state (or
--init-state). With --with-history they run after the known interactions.
Nothing is cached or persisted.

With --input a single action runs instead, outside any interaction, and
only its state and result are printed.

Examples:
  weave simulate --fixtures ./fixtures --interactions txs.yaml token-1
  weave simulate --fixtures ./fixtures --input '{"function":"balance"}' --caller alice token-1
  weave simulate --fixtures ./fixtures --interactions txs.yaml --exm --exm-context exm.json token-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Interactions, "interactions", "", "YAML or JSON list of simulated interactions")
	cmd.Flags().StringVar(&opts.Input, "input", "", "JSON input of a single action to apply")
	cmd.Flags().StringVar(&opts.Caller, "caller", "", "caller of the --input action")
	cmd.MarkFlagsOneRequired("interactions", "input")
	cmd.MarkFlagsMutuallyExclusive("interactions", "input")
	cmd.Flags().StringVar(&opts.InitState, "init-state", "", "JSON file replacing the contract's initial state")
	cmd.Flags().StringVar(&opts.ExmContext, "exm-context", "", "JSON file with a prior exm context (requests and kv)")
	cmd.Flags().BoolVar(&opts.WithHistory, "with-history", false, "run after the contract's known interactions")
	cmd.MarkFlagsMutuallyExclusive("input", "with-history")
	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "history height bound with --with-history (0 for all)")
	cmd.Flags().BoolVar(&opts.EXM, "exm", false, "expose the EXM global")
	cmd.Flags().BoolVar(&opts.Lazy, "lazy", false, "serve deterministic fetches only from the exm context")
	cmd.Flags().BoolVar(&opts.ShowErrors, "show-errors", false, "record error messages as validity")
	cmd.Flags().Int64Var(&opts.TxDate, "tx-date", 0, "fixed EXM.getDate epoch in milliseconds")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts *simulateOptions, contractID string) error {
	ctx := cmd.Context()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	var (
		txs    []executor.SimulatedInteraction
		action *executor.Action
	)
	if opts.Input != "" {
		if !json.Valid([]byte(opts.Input)) {
			return fmt.Errorf("--input is not valid JSON")
		}
		action = &executor.Action{Input: json.RawMessage(opts.Input), Caller: opts.Caller}
	} else if txs, err = readSimulated(opts.Interactions); err != nil {
		return err
	}

	var settings *contracts.Settings
	flags := cmd.Flags()
	if flags.Changed("exm") || flags.Changed("lazy") || flags.Changed("show-errors") || flags.Changed("tx-date") {
		s := cfg.Settings
		if flags.Changed("exm") {
			s.EXM = opts.EXM
		}
		if flags.Changed("lazy") {
			s.LazyEvaluation = opts.Lazy
		}
		if flags.Changed("show-errors") {
			s.ShowErrors = opts.ShowErrors
		}
		if flags.Changed("tx-date") {
			s.TxDate = opts.TxDate
		}
		settings = &s
	}

	var exm *contracts.ExmContext
	if opts.ExmContext != "" {
		data, err := os.ReadFile(opts.ExmContext)
		if err != nil {
			return fmt.Errorf("read exm context: %w", err)
		}
		exm = &contracts.ExmContext{}
		if err := json.Unmarshal(data, exm); err != nil {
			return fmt.Errorf("parse exm context: %w", err)
		}
	}

	eng, err := opts.openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	var res *contracts.EvaluationResult
	if opts.WithHistory {
		if opts.InitState != "" {
			return fmt.Errorf("--init-state cannot be combined with --with-history")
		}
		res, err = eng.exec.ExecuteContract(ctx, contractID, opts.Height, &executor.SimulateConfig{
			Interactions: executor.Interactions(txs),
			Settings:     settings,
			Exm:          exm,
		})
	} else {
		req := executor.SimulateRequest{
			ContractID:   contractID,
			Interactions: executor.Interactions(txs),
			Settings:     settings,
			Exm:          exm,
			Action:       action,
		}
		if action != nil {
			req.Interactions = nil
		}
		if opts.InitState != "" {
			data, err := os.ReadFile(opts.InitState)
			if err != nil {
				return fmt.Errorf("read init state: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("init state %s is not valid JSON", opts.InitState)
			}
			req.InitState = data
		}
		res, err = eng.exec.SimulateContract(ctx, req)
	}
	if err != nil {
		return err
	}
	if action != nil {
		return writeJSON(opts.stdout, actionOutput{State: res.State, Result: res.Result})
	}
	return writeJSON(opts.stdout, res)
}

type actionOutput struct {
	State  json.RawMessage `json:"state"`
	Result json.RawMessage `json:"result"`
}

// readSimulated accepts YAML or JSON. The document goes through a generic
// value so that inputs written as YAML mappings keep their structure.
func readSimulated(path string) ([]executor.SimulatedInteraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse interactions: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse interactions: %w", err)
	}
	var txs []executor.SimulatedInteraction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("parse interactions: %w", err)
	}
	return txs, nil
}

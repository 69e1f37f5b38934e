package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/liamcoop/textflow/internal/logger"
	"github.com/liamcoop/textflow/rules"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// options are the flags shared by every subcommand.
type options struct {
	flowsPath string
	flowRef   string
	logLevel  string
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "textflow",
		Short: "Run text transformation flows from the command line",
		Long: `textflow applies an ordered flow of regex rules to a text.

Flows are read from a YAML or JSON document (-f). Input text is read from
the file argument, or from stdin when none is given.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Setup(logger.Options{Level: opts.logLevel, Output: cmd.ErrOrStderr()})
			logger.Debug("command started", "command", cmd.Name())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("no command specified")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.flowsPath, "flows", "f", "", "Flow document (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&opts.flowRef, "flow", "", "Flow ID or name (default: first enabled flow)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "WARN", "Log level")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newHighlightCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))

	return rootCmd
}

func newRunCmd(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Apply a flow to a text and print the result",
		Example: `  textflow run -f flows.yaml notes.txt
  echo "mail bob@x.com" | textflow run -f flows.yaml --flow emails --format yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := opts.loadFlow()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			engine, err := newEngine()
			if err != nil {
				return err
			}
			result := engine.Execute(text, flow)

			for _, rr := range result.Rules {
				if rr.Status == rules.StatusInvalidPattern || rr.Status == rules.StatusMatchError {
					logger.Warn("rule skipped", "rule_id", rr.RuleID, "status", rr.Status, "err", rr.Error)
				}
			}

			return writeResult(cmd.OutOrStdout(), format, result)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or yaml")
	return cmd
}

func newHighlightCmd(opts *options) *cobra.Command {
	var (
		list    bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "highlight [file]",
		Short: "Show where the rules of a flow match",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := opts.loadFlow()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			engine, err := newEngine()
			if err != nil {
				return err
			}
			ranges := engine.Highlight(text, flow.Rules)

			out := cmd.OutOrStdout()
			if list {
				for _, r := range ranges {
					fmt.Fprintf(out, "%s\t%d\t%d\t%q\n", r.RuleID, r.Start, r.End, r.Text)
				}
				return nil
			}
			fmt.Fprintln(out, renderHighlights(out, text, ranges, noColor))
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List ranges instead of rendering the text")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Mark matches with brackets instead of colors")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every flow in the document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.loadFlows()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, flow := range flows {
				if err := rules.ValidateFlow(flow); err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", flow.Name, err)
					continue
				}
				issues := rules.PatternIssues(flow)
				if len(issues) == 0 {
					fmt.Fprintf(out, "✓ %s (%d rules)\n", flow.Name, len(flow.Rules))
					continue
				}
				failed++
				fmt.Fprintf(out, "✗ %s\n", flow.Name)
				for _, issue := range issues {
					fmt.Fprintf(out, "    rule %s: %s\n", issue.RuleID, issue.Error)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d flows have problems", failed, len(flows))
			}
			return nil
		},
	}
}

func newEngine() (*rules.Engine, error) {
	return rules.NewEngine(rules.WithLogger(logger.Logger))
}

func (o *options) loadFlows() ([]*rules.Flow, error) {
	if o.flowsPath == "" {
		return nil, errors.New("a flow document is required (-f)")
	}
	data, err := os.ReadFile(o.flowsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows: %w", err)
	}
	flows, err := rules.DecodeFlows(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", o.flowsPath, err)
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("%s contains no flows", o.flowsPath)
	}
	return flows, nil
}

// loadFlow picks the flow named by --flow, matching ID first and then name,
// or the first enabled flow.
func (o *options) loadFlow() (*rules.Flow, error) {
	flows, err := o.loadFlows()
	if err != nil {
		return nil, err
	}

	if o.flowRef == "" {
		for _, flow := range flows {
			if flow.Enabled {
				return flow, nil
			}
		}
		return nil, errors.New("no enabled flow in document")
	}

	for _, flow := range flows {
		if flow.ID == o.flowRef {
			return flow, nil
		}
	}
	for _, flow := range flows {
		if strings.EqualFold(flow.Name, o.flowRef) {
			return flow, nil
		}
	}
	return nil, fmt.Errorf("flow %q not found", o.flowRef)
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

type resultDocument struct {
	Text     string             `json:"text" yaml:"text"`
	Captures rules.CaptureStore `json:"captures" yaml:"captures"`
	Rules    []ruleDocument     `json:"rules" yaml:"rules"`
}

type ruleDocument struct {
	ID      string           `json:"id" yaml:"id"`
	Status  rules.RuleStatus `json:"status" yaml:"status"`
	Matches int              `json:"matches" yaml:"matches"`
	Error   string           `json:"error,omitempty" yaml:"error,omitempty"`
}

func writeResult(w io.Writer, format string, result *rules.Result) error {
	doc := resultDocument{Text: result.Text, Captures: result.Captures, Rules: []ruleDocument{}}
	for _, rr := range result.Rules {
		doc.Rules = append(doc.Rules, ruleDocument{ID: rr.RuleID, Status: rr.Status, Matches: rr.Matches, Error: rr.Error})
	}

	switch format {
	case "text", "":
		_, err := io.WriteString(w, result.Text)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q (use: text, json, yaml)", format)
	}
}

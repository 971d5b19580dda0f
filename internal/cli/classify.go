package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/category"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	Rules bool
}

// ClassifyResult is the classify command's payload.
type ClassifyResult struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Rule        string `json:"rule,omitempty"`
}

// RuleInfo lists one classifier rule.
type RuleInfo struct {
	Order int    `json:"order"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify <name> [description]",
		Short: "Classify an event title into a category",
		Long: `Run the category classifier on an event name and optional description.

The first matching rule decides. With --rules the rule list is printed in
evaluation order instead.

Example:
  eventsync classify "Jazz õhtu" "live band in the old town"
  eventsync classify --rules`,
		Args:          cobra.RangeArgs(0, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Rules, "rules", false, "list the classifier rules in evaluation order")

	return cmd
}

func runClassify(opts *ClassifyOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	c := category.New()

	if opts.Rules {
		return outputRules(formatter, c.Rules())
	}
	if len(args) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "classify needs an event name", nil)
	}

	res := ClassifyResult{Name: args[0]}
	if len(args) > 1 {
		res.Description = args[1]
	}
	label, rule := c.Explain(res.Name, res.Description)
	res.Category = string(label)
	res.Rule = rule
	formatter.VerboseLog("classified %q by rule %q", res.Name, rule)

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	if rule == "" {
		rule = "default"
	}
	fmt.Fprintf(formatter.Writer, "%s (rule: %s)\n", res.Category, rule)
	return nil
}

func outputRules(formatter *OutputFormatter, rules []category.Rule) error {
	infos := make([]RuleInfo, 0, len(rules))
	for i, r := range rules {
		infos = append(infos, RuleInfo{Order: i + 1, Name: r.Name, Label: string(r.Label)})
	}
	if formatter.Format == "json" {
		return formatter.Success(infos)
	}
	var b strings.Builder
	for _, r := range infos {
		fmt.Fprintf(&b, "%2d. %-24s %s\n", r.Order, r.Name, r.Label)
	}
	fmt.Fprint(formatter.Writer, b.String())
	return nil
}

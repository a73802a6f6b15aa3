package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"entitycore/pkg/entity"
	"entitycore/pkg/exprrule"
)

// errFindings marks a run that completed but left error-severity messages.
var errFindings = errors.New("fixture has error-severity findings")

var checkCfg = viper.New()

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a rule document against a property fixture",
	Long: `Load a rule document and a fixture of property values, assign the
values to a dynamic entity in sorted property order, and print the
resulting messages and meta-state.

The fixture is a YAML map under a top-level "properties" key:

  properties:
    Customer: ACME
    Qty: 3

Exit status is 1 when error-severity findings remain, 2 on a failed run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRuleCheck(cmd.Context(), cmd.OutOrStdout(),
			checkCfg.GetString("rules"),
			checkCfg.GetString("fixture"),
			checkCfg.GetString("format"),
		)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("rules", "", "path to the YAML rule document")
	checkCmd.Flags().String("fixture", "", "path to the YAML property fixture")
	checkCmd.Flags().String("format", "text", "output format: text or json")

	checkCfg.SetEnvPrefix("RULECHECK")
	checkCfg.AutomaticEnv()
	for _, name := range []string{"rules", "fixture", "format"} {
		_ = checkCfg.BindPFlag(name, checkCmd.Flags().Lookup(name))
	}
}

// report is the CLI's view of the entity after the fixture ran.
type report struct {
	Valid    bool             `json:"valid"`
	New      bool             `json:"new"`
	Modified bool             `json:"modified"`
	Messages []entity.Message `json:"messages"`
}

func runRuleCheck(ctx context.Context, out io.Writer, rulesPath, fixturePath, format string) error {
	if rulesPath == "" {
		return errors.New("--rules is required (or RULECHECK_RULES)")
	}
	if fixturePath == "" {
		return errors.New("--fixture is required (or RULECHECK_FIXTURE)")
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %s", format)
	}

	slog.Debug("loading rule document", "path", rulesPath)
	doc, err := exprrule.LoadFile(rulesPath)
	if err != nil {
		return err
	}
	checks, err := exprrule.NewCompiler().CompileDocument(doc)
	if err != nil {
		return err
	}
	values, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}
	slog.Debug("fixture loaded", "path", fixturePath, "properties", len(values), "rules", len(checks))

	e := entity.New()
	for _, name := range propertyNames(values, checks) {
		e.Define(name)
	}
	for _, check := range checks {
		e.Rules().Register(check)
	}
	for _, name := range sortedKeys(values) {
		slog.Debug("assigning fixture value", "property", name)
		if err := e.Assign(ctx, name, values[name]); err != nil {
			return fmt.Errorf("assign %s: %w", name, err)
		}
	}
	if err := e.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}

	rep := report{
		Valid:    e.IsValid(),
		New:      e.IsNew(),
		Modified: e.IsModified(),
		Messages: entity.AggregateMessages(e),
	}
	if err := render(out, rep, format); err != nil {
		return err
	}
	for _, m := range rep.Messages {
		if m.Severity == entity.SeverityError {
			return errFindings
		}
	}
	return nil
}

// fixture is the YAML shape of a property fixture.
type fixture struct {
	Properties map[string]any `yaml:"properties"`
}

func loadFixture(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(fx.Properties) == 0 {
		return nil, fmt.Errorf("fixture %q declares no properties", path)
	}
	return fx.Properties, nil
}

// propertyNames is the sorted union of fixture keys and rule triggers, so
// registration never trips over an undefined trigger property.
func propertyNames(values map[string]any, checks []entity.Checker) []string {
	seen := make(map[string]struct{}, len(values))
	for name := range values {
		seen[name] = struct{}{}
	}
	for _, check := range checks {
		for _, trigger := range check.Triggers() {
			seen[trigger] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for name := range values {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

func render(out io.Writer, rep report, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	fmt.Fprintf(out, "valid: %v\n", rep.Valid)
	fmt.Fprintf(out, "new: %v\n", rep.New)
	fmt.Fprintf(out, "modified: %v\n", rep.Modified)
	if len(rep.Messages) == 0 {
		fmt.Fprintln(out, "messages: none")
		return nil
	}
	fmt.Fprintln(out, "messages:")
	for _, m := range rep.Messages {
		fmt.Fprintf(out, "  [%s] %s %s: %s\n", m.Severity, m.Property, m.Rule, m.Text)
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/dupguard/internal/config"
	"github.com/eliteGoblin/dupguard/internal/daemon"
	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/infra"
	"github.com/eliteGoblin/dupguard/internal/usecase"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether an action would duplicate a previous one",
	Long: `Runs the duplication check for one action and prints the verdict.
A passing check reserves the slot until the action is recorded or the
reservation expires.`,
	RunE: runCheck,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the outcome of an executed action",
	RunE:  runRecord,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage duplication rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules, highest priority first",
	RunE:  runRulesList,
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a rule from a JSON file",
	Long:  `Reads a rule as JSON from --file (or stdin with --file -) and stores it.`,
	RunE:  runRulesCreate,
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesDelete,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleEnabled(cmd, args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleEnabled(cmd, args[0], false) },
}

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "Inspect recorded duplication checks",
}

var checksExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export checks as json, csv or excel",
	RunE:  runChecksExport,
}

var historyCmd = &cobra.Command{
	Use:   "history <target>",
	Short: "Show the action history and risk of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var purgeCmd = &cobra.Command{
	Use:   "purge [target]",
	Short: "Purge audit data",
	Long: `With a target, removes every check, event and history rollup about it.
Without one, expires stale reservations and drops data older than the
retention policy, as the server's janitor does.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPurge,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running",
	RunE:  runStatus,
}

var (
	actionFlag  string
	targetFlag  string
	deviceFlag  string
	outcomeFlag string
	fileFlag    string
	formatFlag  string
	outputFlag  string
	ruleFlag    string
	sinceFlag   time.Duration
)

func init() {
	for _, c := range []*cobra.Command{checkCmd, recordCmd} {
		c.Flags().StringVar(&actionFlag, "action", "", "Action type (follow, reply, like, share)")
		c.Flags().StringVar(&targetFlag, "target", "", "Target id")
		c.Flags().StringVar(&deviceFlag, "device", "", "Device id")
		_ = c.MarkFlagRequired("action")
		_ = c.MarkFlagRequired("target")
		_ = c.MarkFlagRequired("device")
	}
	recordCmd.Flags().StringVar(&outcomeFlag, "outcome", string(domain.OutcomeSuccess), "Outcome (success, failed, cancelled)")

	for _, c := range []*cobra.Command{checkCmd, rulesListCmd, historyCmd, statusCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	}

	rulesCreateCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Rule JSON file, - for stdin")
	_ = rulesCreateCmd.MarkFlagRequired("file")
	rulesCmd.AddCommand(rulesListCmd, rulesCreateCmd, rulesDeleteCmd, rulesEnableCmd, rulesDisableCmd)

	checksExportCmd.Flags().StringVar(&formatFlag, "format", "", "Export format (json, csv, excel); defaults to the policy setting")
	checksExportCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (default stdout)")
	checksExportCmd.Flags().StringVar(&targetFlag, "target", "", "Only checks for this target")
	checksExportCmd.Flags().StringVar(&ruleFlag, "rule", "", "Only checks decided by this rule")
	checksExportCmd.Flags().DurationVar(&sinceFlag, "since", 0, "Only checks newer than this, e.g. 24h")
	checksCmd.AddCommand(checksExportCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p := usecase.NewPrechecker(nil, a.detector, a.history, a.audit, usecase.DefaultPrecheckerConfig(), a.logger)
	verdict, err := p.CheckDuplication(ctx, domain.ActionType(actionFlag), targetFlag, deviceFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, verdict)
	}
	fmt.Fprintf(out, "Result: %s\n", strings.ToUpper(string(verdict.Result)))
	fmt.Fprintf(out, "Reason: %s\n", verdict.Reason)
	if verdict.WaitSeconds > 0 {
		fmt.Fprintf(out, "Wait:   %s\n", time.Duration(verdict.WaitSeconds)*time.Second)
	}
	return nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p := usecase.NewPrechecker(nil, a.detector, a.history, a.audit, usecase.DefaultPrecheckerConfig(), a.logger)
	err = p.RecordDuplicationAction(ctx, domain.ActionType(actionFlag), targetFlag, deviceFlag, domain.Outcome(outcomeFlag))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s on %s (%s)\n", actionFlag, targetFlag, deviceFlag, outcomeFlag)
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.rules.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, rules)
	}
	if len(rules) == 0 {
		fmt.Fprintln(out, "No rules defined.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPRIORITY\tENABLED\tWINDOW\tMAX/TARGET\tON DUPLICATE\tCHECKS\tBLOCKED")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%d %s\t%d\t%s\t%d\t%d\n",
			r.ID, r.Name, r.Type, r.Priority, r.Enabled,
			r.TimeWindow.Value, r.TimeWindow.Unit,
			r.Conditions.MaxActionsPerTarget, r.Actions.OnDuplicationDetected,
			r.Stats.TotalChecks, r.Stats.ActionsBlocked)
	}
	return tw.Flush()
}

func runRulesCreate(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if fileFlag != "-" {
		f, err := os.Open(fileFlag)
		if err != nil {
			return fmt.Errorf("failed to open rule file: %w", err)
		}
		defer f.Close()
		in = f
	}
	var rule domain.DuplicationRule
	if err := json.NewDecoder(in).Decode(&rule); err != nil {
		return fmt.Errorf("failed to parse rule: %w", err)
	}

	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.rules.Create(ctx, rule)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created rule %s\n", id)
	return nil
}

func runRulesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.rules.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %s\n", args[0])
	return nil
}

func setRuleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.rules.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s\n", state, id)
	return nil
}

func runChecksExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	format := domain.ExportFormat(formatFlag)
	if format == "" {
		format = a.policy.Current().DataRetention.ExportFormat
	}
	if !format.Valid() {
		return fmt.Errorf("unknown export format %q", format)
	}

	filter := domain.CheckFilter{TargetID: targetFlag, RuleID: ruleFlag}
	if sinceFlag > 0 {
		filter.Since = time.Now().Add(-sinceFlag)
	}
	checks, err := usecase.CollectChecks(ctx, a.audit, filter)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputFlag != "" {
		f, err := os.OpenFile(outputFlag, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := infra.NewExporter().Export(out, checks, format); err != nil {
		return err
	}
	if outputFlag != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d checks to %s\n", len(checks), outputFlag)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.audit.History(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if history == nil {
		fmt.Fprintf(out, "No history for %s\n", args[0])
		return nil
	}
	if jsonOutput {
		return printJSON(out, history)
	}

	fmt.Fprintf(out, "\n=== %s ===\n", history.TargetID)
	fmt.Fprintf(out, "Risk: %s", history.RiskLevel)
	if len(history.RiskFactors) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(history.RiskFactors, ", "))
	}
	fmt.Fprintf(out, "\nActions: %d on %d device(s)\n", history.TotalActions, history.UniqueDevices)
	fmt.Fprintf(out, "First: %s\nLast:  %s\n\n", history.FirstAction.Format(time.RFC3339), history.LastAction.Format(time.RFC3339))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tDEVICE\tRESULT\tOUTCOME")
	for _, act := range history.Actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			act.Timestamp.Format(time.RFC3339), act.Type, act.DeviceID, act.Result, act.Outcome)
	}
	return tw.Flush()
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if err := a.audit.PurgeTarget(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Purged audit data for %s\n", args[0])
		return nil
	}

	janitor := daemon.NewJanitor(daemon.DefaultJanitorConfig(), a.history, a.audit, a.policy, nil, domain.Instance{}, a.logger)
	res := janitor.Sweep(ctx)
	fmt.Fprintf(out, "Expired %d reservation(s), purged %d history entries and %d audit records\n",
		res.Expired, res.HistoryPurged, res.AuditPurged)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	registry := infra.NewFileInstanceRegistry(cfg.DataDir, infra.NewProcessInspector())
	status, err := registry.Status()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, status)
	}

	fmt.Fprintln(out, "\n=== dupguard Status ===")
	if status == nil || !status.Alive {
		fmt.Fprintln(out, "Status: NOT RUNNING")
		fmt.Fprintln(out, "\nRun 'dupguard serve' to start the service.")
		return nil
	}
	fmt.Fprintln(out, "Status: RUNNING")
	fmt.Fprintf(out, "Version: %s\n", status.Version)
	fmt.Fprintf(out, "Address: %s\n", status.Addr)
	fmt.Fprintf(out, "PID: %d\n", status.PID)
	fmt.Fprintf(out, "Uptime: %s\n", time.Since(status.StartedAt).Round(time.Second))
	fmt.Fprintf(out, "Last heartbeat: %s ago\n", time.Since(status.LastHeartbeat).Round(time.Second))
	fmt.Fprintf(out, "CPU: %.1f%%  RSS: %.1f MiB\n", status.CPUPercent, float64(status.RSSBytes)/(1<<20))
	fmt.Fprintf(out, "Data directory: %s\n", cfg.DataDir)
	fmt.Fprintln(out, "=======================")
	return nil
}

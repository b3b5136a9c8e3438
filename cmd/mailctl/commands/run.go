package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/unclebandit/mailflow-backend/internal/service"
)

var (
	runTenant int
	runForce  bool
)

var runCmd = &cobra.Command{
	Use:   "run <campaign-id>",
	Short: "Run one pass of a campaign",
	Long: `Run processes the campaign's due leads once. With --force every
lead is processed regardless of its next due time.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaign,
}

var runDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run one pass of every active campaign",
	RunE:  runDue,
}

func init() {
	runCmd.Flags().IntVar(&runTenant, "tenant", 0, "Tenant that owns the campaign")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Process leads that are not yet due")
	runCmd.MarkFlagRequired("tenant")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid campaign id %q", args[0])
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Runner.Run(cmd.Context(), id, runTenant, service.RunOptions{Force: runForce})
	if err := render(cmd.OutOrStdout(), res, func(w io.Writer) { printResult(w, res) }); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("run failed: %s", res.Error)
	}
	return nil
}

func runDue(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.Runner.RunActive(cmd.Context())
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), runs, func(w io.Writer) {
		if len(runs) == 0 {
			fmt.Fprintln(w, "no active campaigns")
			return
		}
		for _, r := range runs {
			fmt.Fprintf(w, "campaign %d (%s): ", r.CampaignID, r.Name)
			printResult(w, r.Result)
		}
	})
}

func printResult(w io.Writer, res service.RunResult) {
	if !res.Success {
		fmt.Fprintf(w, "failed: %s\n", res.Error)
		return
	}
	fmt.Fprintln(w, res.Message)
}

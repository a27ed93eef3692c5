package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newReconcileCmd creates the 'reconcile' subcommand. It repairs one team's
// owner index against the record store and prints the report as JSON.
func newReconcileCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repairs a team's ongoing/completed index",
		Long: `Walks the team's ongoing and completed sets, removes entries whose
record no longer exists, and moves finished jobs still listed as ongoing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if teamID == "" {
				return fmt.Errorf("--team is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Reconcile(cmd.Context(), teamID)
			if err != nil {
				return fmt.Errorf("reconcile team %s: %w", teamID, err)
			}
			appInstance.GetLogger().Info("reconcile finished",
				zap.String("team_id", teamID),
				zap.Int("checked", report.Checked),
				zap.Int("removed", report.Removed),
				zap.Int("moved", report.Moved),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team whose index should be reconciled")
	return cmd
}

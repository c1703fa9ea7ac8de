package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseID(arg, what string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func newMigrateCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(ctx context.Context, b Backend) error {
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				return output(cmd, opts, map[string]string{"status": "migrated"}, "migrations applied")
			})
		},
	}
}

func newCycleCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Manage inventory cycles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <cycle-id>",
		Short: "Cancel a cycle and every sector still open in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "cycle")
			if err != nil {
				return err
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b Backend) error {
				cycle, err := b.CancelCycle(ctx, id)
				if err != nil {
					return err
				}
				return output(cmd, opts, cycle, fmt.Sprintf("cycle %d %s (%d/%d sectors completed)",
					cycle.ID, cycle.Status, cycle.CompletedSectors, cycle.TotalSectors))
			})
		},
	})
	return cmd
}

func newSectorCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sector",
		Short: "Manage sector counts",
	}

	var operatorID int
	var reason string
	force := &cobra.Command{
		Use:   "force-complete <sector-count-id>",
		Short: "Close a sector count that will not converge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "sector count")
			if err != nil {
				return err
			}
			if operatorID <= 0 {
				return fmt.Errorf("--operator is required")
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b Backend) error {
				sc, err := b.ForceComplete(ctx, id, operatorID, reason)
				if err != nil {
					return err
				}
				return output(cmd, opts, sc, fmt.Sprintf("sector count %d %s at round %d",
					sc.ID, sc.Status, sc.Marker.Round))
			})
		},
	}
	force.Flags().IntVar(&operatorID, "operator", 0, "operator user id recorded on the override")
	force.Flags().StringVar(&reason, "reason", "", "reason stored with the override")
	cmd.AddCommand(force)
	return cmd
}

func newReportCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Variance reports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <cycle-id>",
		Short: "Upload the variance report of every completed sector in a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "cycle")
			if err != nil {
				return err
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b Backend) error {
				reports, err := b.ArchiveCycle(ctx, id)
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%d report(s) archived", len(reports))
				for _, r := range reports {
					text += fmt.Sprintf("\n  sector count %d -> %s", r.SectorCountID, r.Location)
				}
				return output(cmd, opts, reports, text)
			})
		},
	})
	return cmd
}

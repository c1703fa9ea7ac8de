package cli

import (
	"context"
	"fmt"

	"count-backend/internal/models"
	"count-backend/internal/services"

	"github.com/spf13/cobra"
)

// Backend is what the commands operate on; *app.App satisfies it.
type Backend interface {
	Migrate(ctx context.Context) error
	CancelCycle(ctx context.Context, cycleID int) (*models.InventoryCycle, error)
	ForceComplete(ctx context.Context, sectorCountID, operatorID int, reason string) (*models.SectorCount, error)
	ArchiveCycle(ctx context.Context, cycleID int) ([]services.ArchivedReport, error)
	Close()
}

// Opener connects a Backend for one command run
type Opener func(ctx context.Context, opts *RootOptions) (Backend, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the countctl command tree
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "countctl",
		Short: "Operator tooling for sector counts",
		Long:  "Apply migrations, cancel cycles, force sectors closed and archive variance reports.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "configs/config.yaml", "path to the config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts, open))
	cmd.AddCommand(newCycleCommand(opts, open))
	cmd.AddCommand(newSectorCommand(opts, open))
	cmd.AddCommand(newReportCommand(opts, open))

	return cmd
}

// withBackend opens the backend, runs fn and closes it again
func withBackend(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

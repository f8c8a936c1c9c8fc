package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"neurodb/internal/db"
)

var transferDirection string

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Copy nodes and edges between the embedded and managed stores",
	Long: `Copy nodes and edges between the embedded and managed stores.

Both --db and the managed connection settings must be given. Segments are not copied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Path == "" || cfg.Managed.Database == "" {
			return fmt.Errorf("transfer needs both --db and --pg-database")
		}
		if _, err := cfg.Descriptor(); err != nil {
			return err
		}

		var ok bool
		switch transferDirection {
		case "to-managed":
			ok = db.EmbeddedToManaged(cmd.Context(), cfg.Path, cfg.Managed, logger)
		case "to-embedded":
			ok = db.ManagedToEmbedded(cmd.Context(), cfg.Managed, cfg.Path, logger)
		default:
			return fmt.Errorf("unknown direction %q (want to-managed or to-embedded)", transferDirection)
		}
		if !ok {
			return fmt.Errorf("transfer %s failed, see log", transferDirection)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "transfer %s complete\n", transferDirection)
		return nil
	},
}

func init() {
	transferCmd.Flags().StringVar(&transferDirection, "direction", "to-managed", "to-managed or to-embedded")
	rootCmd.AddCommand(transferCmd)
}

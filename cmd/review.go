package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"neurodb/internal/db"
)

var checkCmd = &cobra.Command{
	Use:   "check <nid>",
	Short: "Mark a node verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nids, err := parseInt64s(args)
		if err != nil {
			return err
		}
		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := backend.CheckNode(cmd.Context(), nids[0], db.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "node %d verified\n", nids[0])
		return nil
	},
}

var uncheckCmd = &cobra.Command{
	Use:   "uncheck <nid>...",
	Short: "Mark nodes rejected",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nids, err := parseInt64s(args)
		if err != nil {
			return err
		}
		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := backend.UncheckNodes(cmd.Context(), nids, db.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d nodes rejected\n", len(nids))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(uncheckCmd)
}

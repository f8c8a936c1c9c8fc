package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"neurodb/internal/db"
)

var roiCmd = &cobra.Command{
	Use:   "roi <x> <y> <z> <dx> <dy> <dz>",
	Short: "List node ids inside a box",
	Long: `List node ids inside a box given by its offset and size.

Put -- before the arguments when an offset is negative.`,
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseInt64s(args)
		if err != nil {
			return err
		}
		roi, err := db.ParseROI(vals)
		if err != nil {
			return err
		}

		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		nids, err := backend.NidsWithinROI(cmd.Context(), roi)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, nid := range nids {
			fmt.Fprintln(out, nid)
		}
		logger.Debug("roi query", slog.Int("matches", len(nids)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roiCmd)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <peer-id>",
		Short: "Generate the local RSA identity for peer-id and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := engine.Register(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fp, err := id.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity ready for %s.\nFingerprint: %s\n", id.ID, fp)
			return nil
		},
	}
}

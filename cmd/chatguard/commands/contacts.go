package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List and manage known peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := register(cmd.Context()); err != nil {
				return err
			}
			list, err := engine.Directory().List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PEER\tSTATE\tENABLED\tLAST SEEN")
			for _, rec := range list {
				state, err := engine.State(cmd.Context(), rec.PeerID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", rec.PeerID, state, rec.Enabled, rec.LastSeen)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(enableCmd("enable", true), enableCmd("disable", false))
	return cmd
}

func enableCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer-id>",
		Short: fmt.Sprintf("Mark a contact as %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := engine.Directory().SetEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("unknown contact %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
			return nil
		},
	}
}

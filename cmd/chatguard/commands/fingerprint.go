package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/chatguard/pkg/crypto"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [peer-id]",
		Short: "Print the fingerprint of the local identity or of a contact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := register(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fp, err := id.Fingerprint()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fp)
				return nil
			}

			rec, found, err := engine.Directory().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found || !rec.HasKey() {
				return fmt.Errorf("no key stored for %s", args[0])
			}
			fp, err := crypto.FingerprintPEM(rec.PublicKeyPEM)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fp)
			return nil
		},
	}
}

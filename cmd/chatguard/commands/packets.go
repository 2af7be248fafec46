package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/chatguard/pkg/protocol"
)

func handshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Print a handshake packet announcing the local public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := register(cmd.Context()); err != nil {
				return err
			}
			packet, err := engine.Handshake()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), packet)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <peer-id> [text]",
		Short: "Seal text for peer-id and print the message packet (reads stdin without text)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := register(cmd.Context()); err != nil {
				return err
			}
			text, err := argOrStdin(cmd, args, 1)
			if err != nil {
				return err
			}

			packet, ok, err := engine.Send(cmd.Context(), args[0], []byte(text))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no public key for %s, exchange handshakes first", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), packet)
			return nil
		},
	}
}

func handleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "handle [packet]",
		Aliases: []string{"decrypt"},
		Short:   "Process an inbound packet: decrypt a message or record a handshake",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := register(cmd.Context()); err != nil {
				return err
			}
			packet, err := argOrStdin(cmd, args, 0)
			if err != nil {
				return err
			}

			res, err := engine.Handle(cmd.Context(), packet)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case res.Kind == protocol.KindMessage && res.Addressed:
				fmt.Fprintln(out, string(res.Plaintext))
			case res.Reply != "":
				fmt.Fprintln(out, res.Reply)
			case res.Accepted:
				fmt.Fprintln(out, "acknowledged")
			default:
				fmt.Fprintf(out, "%s ignored\n", res.Kind)
			}
			return nil
		},
	}
}

func argOrStdin(cmd *cobra.Command, args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <message>: encrypt and send a message to the group.
func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Encrypt and send a message to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroupFlag()
			if err != nil {
				return err
			}
			if err := wire.Messages.Send(cmd.Context(), g, []byte(args[0])); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	addGroupFlag(cmd)
	return cmd
}

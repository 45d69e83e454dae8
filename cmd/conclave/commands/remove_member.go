package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func removeMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-member <member>",
		Short: "Remove a member from a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroupFlag()
			if err != nil {
				return err
			}
			if err := wire.Groups.Remove(cmd.Context(), g, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	addGroupFlag(cmd)
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// add-member <member>: fetch the member's key package and commit the add.
func addMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-member <member>",
		Short: "Add a registered user to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroupFlag()
			if err != nil {
				return err
			}
			if err := wire.Groups.Add(cmd.Context(), g, args[0]); err != nil {
				return err
			}
			fmt.Printf("added %s\n", args[0])
			return nil
		},
	}
	addGroupFlag(cmd)
	return cmd
}

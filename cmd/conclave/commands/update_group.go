package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func updateGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-group",
		Short: "Rotate your group key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroupFlag()
			if err != nil {
				return err
			}
			if err := wire.Groups.Update(cmd.Context(), g); err != nil {
				return err
			}
			fmt.Println("group keys rotated")
			return nil
		},
	}
	addGroupFlag(cmd)
	return cmd
}

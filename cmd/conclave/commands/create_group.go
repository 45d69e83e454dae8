package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func createGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-group",
		Short: "Start a new group with yourself as sole member",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := wire.Groups.Create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(g)
			return nil
		},
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func membersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List a group's members",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroupFlag()
			if err != nil {
				return err
			}
			members, err := wire.Groups.Members(g)
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Println(m)
			}
			return nil
		},
	}
	addGroupFlag(cmd)
	return cmd
}

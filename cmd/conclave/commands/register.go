package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create your identity and publish its key package",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Identity.Register(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", user)
			return nil
		},
	}
}

package commands

import (
	"conclave/internal/domain"

	"github.com/spf13/cobra"
)

// addGroupFlag attaches the required -g/--group flag used by every
// group-scoped command.
func addGroupFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&groupID, "group", "g", "", "group id")
	_ = cmd.MarkFlagRequired("group")
}

func parseGroupFlag() (domain.GroupID, error) {
	return domain.ParseGroupID(groupID)
}

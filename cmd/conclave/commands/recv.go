package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"conclave/internal/domain"
)

// recv: hold the delivery stream open and print events as they land.
// Ctrl-C ends it.
func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Stream and decrypt your incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Messages.Receive(cmd.Context(), func(ev domain.Event) {
				switch ev.Kind {
				case domain.KindApplication:
					fmt.Printf("%s: %s\n", ev.Sender, ev.Plaintext)
				case domain.KindWelcome:
					fmt.Printf("joined group %s\n", ev.Group)
				case domain.KindProposal:
					fmt.Printf("join proposal from %s for group %s\n", ev.Sender, ev.Group)
				case domain.KindCommit:
					if ev.Removed {
						fmt.Printf("removed from group %s\n", ev.Group)
					} else {
						fmt.Printf("group %s moved to epoch %d\n", ev.Group, ev.Epoch)
					}
				}
			})
		},
	}
}

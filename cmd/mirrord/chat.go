package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrygo/mirrord/server"
	"github.com/hrygo/mirrord/server/service/chat"
	"github.com/hrygo/mirrord/store"
)

// chatCmd sends one message through the full chat pipeline without HTTP.
// It is handy for checking provider credentials and memory extraction locally.
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message as the given identity and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		tz, _ := cmd.Flags().GetString("tz")

		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		setupLogger(instanceProfile)

		ctx := context.Background()
		storeInstance, closeLocker, err := openStore(ctx, instanceProfile)
		if err != nil {
			return err
		}
		defer closeLocker()

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			_ = storeInstance.Close()
			return err
		}
		// Shutdown drains any extraction pass the message triggered.
		defer s.Shutdown(ctx)

		resp, err := s.ChatService.Chat(ctx, &chat.Request{
			History:  []store.Turn{{Role: store.RoleUser, Content: args[0]}},
			Email:    identity,
			Timezone: tz,
		})
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	chatCmd.Flags().String("identity", chat.AnonymousIdentity, "identity to chat as")
	chatCmd.Flags().String("tz", "", "IANA timezone of the user")
}

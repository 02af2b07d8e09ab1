package cli

import (
	"fmt"
	"strings"

	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/conversation"
	"github.com/spf13/cobra"
)

var askFresh bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask Joe a single question",
	Long: `Ask one question and print the answer. The question continues the
profile's stored conversation unless --new is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askFresh, "new", false, "start a new conversation before asking")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	sess, err := openSession(cmd.Context(), cmd.ErrOrStderr(), func(msg conversation.Message) {
		if msg.Role == conversation.RoleAssistant {
			fmt.Fprintln(out, msg.Content)
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if askFresh {
		if err := sess.client.Reset(cmd.Context()); err != nil {
			return err
		}
	}

	if err := sess.client.Submit(cmd.Context(), strings.Join(args, " ")); err != nil {
		return fmt.Errorf("no answer: %s", chat.Summary(err))
	}
	return nil
}

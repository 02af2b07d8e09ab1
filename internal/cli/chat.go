package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/conversation"
	"github.com/spf13/cobra"
)

const (
	userPrompt      = "you> "
	assistantPrompt = "joe> "
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Joe in the terminal",
	Long: `Start an interactive conversation. The conversation is kept in the
session store and resumed the next time chat runs with the same profile.

Commands:
  /reset    forget the conversation and start over
  /session  print the session handle
  /exit     quit

Press Ctrl-C while Joe is answering to stop the answer.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	sess, err := openSession(cmd.Context(), cmd.ErrOrStderr(), func(msg conversation.Message) {
		if msg.Role == conversation.RoleAssistant {
			fmt.Fprintf(out, "%s%s\n", assistantPrompt, msg.Content)
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	client := sess.client
	history := client.Log()
	if len(history) > 0 {
		fmt.Fprintf(out, "Resuming %d messages for profile %q.\n", len(history), sess.profile)
		for _, msg := range history {
			printMessage(cmd, msg)
		}
	} else {
		fmt.Fprintf(out, "New conversation for profile %q. Type /exit to quit.\n", sess.profile)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, userPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := client.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation reset.")
			continue
		case "/session":
			if h := client.Handle(); h.IsZero() {
				fmt.Fprintln(out, "No session yet.")
			} else {
				fmt.Fprintln(out, h.String())
			}
			continue
		}

		// Ctrl-C cancels this answer only; the remote run is cancelled with it
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		err := client.Submit(ctx, line)
		stop()
		if errors.Is(err, chat.ErrEmptyInput) || errors.Is(err, chat.ErrBusy) {
			fmt.Fprintln(cmd.ErrOrStderr(), chat.Summary(err))
		}
	}

	return scanner.Err()
}

func printMessage(cmd *cobra.Command, msg conversation.Message) {
	prompt := assistantPrompt
	if msg.Role == conversation.RoleUser {
		prompt = userPrompt
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", prompt, msg.Content)
}

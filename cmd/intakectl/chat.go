package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/intake/internal/transport"
)

const (
	chatPrompt   = "> "
	chatQuit     = "/quit"
	chatCancel   = "/cancel"
	chatNewModel = "/model"
)

func (c *cli) newChatCmd() *cobra.Command {
	var (
		sessionID string
		model     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive order-intake conversation over gRPC",
		Long: "Reads one utterance per line and prints the service reply.\n" +
			"Commands: /cancel aborts the session, /model <name> switches model, /quit exits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "session %s\n", sessionID)
			return c.chatLoop(cmd, client, sessionID, model, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().StringVar(&model, "model", "", "inference model for the session")
	return cmd
}

// chatClient: вызовы ChatService, нужные REPL.
type chatClient interface {
	Converse(ctx context.Context, req transport.ConverseRequest) (transport.ChatReply, error)
	Cancel(ctx context.Context, sessionID string) (transport.ChatReply, error)
}

func (c *cli) chatLoop(cmd *cobra.Command, client chatClient, sessionID, model string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, chatPrompt)
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ctx, cancel := c.callContext(cmd.Context())
		var (
			reply transport.ChatReply
			err   error
		)
		switch {
		case line == chatQuit:
			cancel()
			return nil
		case line == chatCancel:
			reply, err = client.Cancel(ctx, sessionID)
		case strings.HasPrefix(line, chatNewModel+" "):
			model = strings.TrimSpace(strings.TrimPrefix(line, chatNewModel))
			cancel()
			_, _ = fmt.Fprintf(out, "model: %s\n", model)
			continue
		default:
			reply, err = client.Converse(ctx, transport.ConverseRequest{SessionID: sessionID, Utterance: line, Model: model})
		}
		cancel()

		if err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printReply(out, reply)
	}
}

func printReply(out io.Writer, reply transport.ChatReply) {
	_, _ = fmt.Fprintln(out, reply.Message)
	var tags []string
	if reply.State != "" {
		tags = append(tags, "state="+reply.State)
	}
	if reply.OrderActionAvailable {
		tags = append(tags, "confirm=yes")
	}
	if reply.OrderID != "" {
		tags = append(tags, "order="+reply.OrderID)
	}
	if reply.QuoteID != "" {
		tags = append(tags, "quote="+reply.QuoteID)
	}
	if len(tags) > 0 {
		_, _ = fmt.Fprintf(out, "[%s]\n", strings.Join(tags, " "))
	}
}

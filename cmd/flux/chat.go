package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	flux "github.com/flux-chat/flux/sdk/golang"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [identity]",
	Short: "Open an interactive chat session",
	Long: "Connect to the realtime channel and chat in the terminal.\n" +
		"Plain lines are sent to the open conversation; type /help for commands.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := signedIn()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		socket := flux.NewSocket(client.SocketURL(), &flux.SocketConfig{
			Token:         cfg.Auth.Token,
			AutoReconnect: true,
		})
		if err := socket.Connect(ctx); err != nil {
			return fmt.Errorf("cannot connect: %w", err)
		}
		defer socket.Close()

		sess := flux.NewSession(cfg.Auth.Identity, client, socket)
		defer sess.Close()

		repl := newChatREPL(sess, cmd.OutOrStdout())
		if err := sess.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("initial sync incomplete")
		}
		if len(args) == 1 {
			if err := repl.handle(ctx, "/open "+args[0]); err != nil {
				repl.printf("! %v\n", err)
			}
		}
		return repl.run(ctx, cmd.InOrStdin())
	},
}

// ============================================================================
// REPL
// ============================================================================

var errQuit = errors.New("quit")

type chatREPL struct {
	sess *flux.Session

	mu      sync.Mutex
	out     io.Writer
	active  string
	printed int
}

func newChatREPL(sess *flux.Session, out io.Writer) *chatREPL {
	r := &chatREPL{sess: sess, out: out}
	sess.OnNotice(r.onNotice)
	sess.OnChange(r.onChange)
	return r
}

func (r *chatREPL) printf(format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, a...)
}

func (r *chatREPL) onNotice(n flux.Notice) {
	r.printf("* %s\n", n.Text)
}

// onChange prints messages from the peer that arrived in the open conversation.
func (r *chatREPL) onChange(v flux.SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.Active != r.active {
		r.active = v.Active
		r.printed = len(v.ActiveLog)
		return
	}
	for _, m := range v.ActiveLog[min(r.printed, len(v.ActiveLog)):] {
		if m.Sender != r.sess.Identity() {
			fmt.Fprintf(r.out, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), displayName(v, m.Sender), m.Body)
		}
	}
	r.printed = len(v.ActiveLog)
}

func displayName(v flux.SessionView, identity string) string {
	if rec, ok := v.Directory[identity]; ok && rec.DisplayName != "" {
		return rec.DisplayName
	}
	return identity
}

func (r *chatREPL) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.printf("Type /help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.printf("! %v\n", err)
			}
		}
	}
}

const chatHelp = `Commands:
  /friends            list friends with presence and unread counts
  /requests           list pending friend requests
  /open <identity>    open a conversation
  /history            print the open conversation
  /find <text>        search message history
  /search <identity>  look up a user
  /add                send a friend request to the last search result
  /accept <identity>  accept a pending request
  /quit               leave
Anything else is sent to the open conversation.
`

// handle executes one input line.
func (r *chatREPL) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := r.sess.Send(ctx, line)
		return err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "help":
		r.printf("%s", chatHelp)
	case "quit", "exit":
		return errQuit
	case "friends":
		v, err := r.sess.View(ctx)
		if err != nil {
			return err
		}
		friends := v.Friends()
		if len(friends) == 0 {
			r.printf("No friends yet.\n")
		}
		for _, f := range friends {
			unread := ""
			if f.UnreadCount > 0 {
				unread = " (" + strconv.Itoa(f.UnreadCount) + " unread)"
			}
			r.printf("%s %-24s %s%s\n", presenceMark(f.Presence), f.DisplayName, f.Identity, unread)
		}
	case "requests":
		v, err := r.sess.View(ctx)
		if err != nil {
			return err
		}
		if len(v.Requests) == 0 {
			r.printf("No pending requests.\n")
		}
		for _, req := range v.Requests {
			r.printf("%-24s %s\n", req.DisplayName, req.SenderIdentity)
		}
	case "open":
		if arg == "" {
			return fmt.Errorf("usage: /open <identity>")
		}
		if err := r.sess.Select(ctx, arg); err != nil {
			return err
		}
		return r.printHistory(ctx)
	case "history":
		return r.printHistory(ctx)
	case "find":
		msgs, err := r.sess.SearchHistory(ctx, arg, "", 20)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			r.printf("[%s] %s -> %s: %s\n", m.Timestamp.Format("01-02 15:04"), m.Sender, m.Recipient, m.Body)
		}
	case "search":
		user, err := r.sess.Search(ctx, arg)
		if err != nil {
			return err
		}
		r.printf("Found %s (%s) %s. Type /add to send a friend request.\n", user.DisplayName, user.LoginID, user.Identity)
	case "add":
		return r.sess.RequestFriend(ctx)
	case "accept":
		if arg == "" {
			return fmt.Errorf("usage: /accept <identity>")
		}
		return r.sess.Accept(ctx, arg)
	default:
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (r *chatREPL) printHistory(ctx context.Context) error {
	v, err := r.sess.View(ctx)
	if err != nil {
		return err
	}
	if v.Active == "" {
		return flux.ErrNoActiveConversation
	}
	r.printf("--- %s ---\n", displayName(v, v.Active))
	for _, m := range v.ActiveLog {
		who := displayName(v, m.Sender)
		if m.Sender == r.sess.Identity() {
			who = "you"
		}
		r.printf("[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, m.Body)
	}
	return nil
}

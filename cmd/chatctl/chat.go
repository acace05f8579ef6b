package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/spf13/cobra"
)

func newChatCmd(e *env) *cobra.Command {
	var (
		sessionID string
		attach    []string
		audioPath string
		sections  []string
	)

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message, or start an interactive chat without one",
		Long: `Opens the given session (or a new one) and streams the reply.
Without a message, reads one message per line from stdin. Lines starting
with a slash are commands: /new, /like <id>, /dislike <id>, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var in session.Input
			if len(attach) > 0 {
				if _, err := a.LoadInfo(ctx); err != nil {
					return explain(err)
				}
				for _, path := range attach {
					att, err := attachment.FromFile(path)
					if err != nil {
						return err
					}
					in.Attachments = append(in.Attachments, att)
				}
				if err := a.Gate.Policy().CheckAll(in.Attachments); err != nil {
					return err
				}
			}
			if audioPath != "" {
				audio, err := attachment.FromFile(audioPath)
				if err != nil {
					return err
				}
				if !attachment.IsAudio(audio) {
					return fmt.Errorf("%s is not a WAV recording", audioPath)
				}
				in.Audio = audio.Data
			}

			var ctrl *session.Controller
			if sessionID != "" {
				ctrl, err = openSession(cmd, e, sessionID)
			} else {
				ctrl, err = a.Sessions.Open(ctx, session.NewSessionTarget)
				err = explain(err)
			}
			if err != nil {
				return err
			}
			if len(sections) > 0 {
				ctrl.SetSections(sections)
			}

			snap := ctrl.Snapshot()
			if snap.Error != "" {
				fmt.Fprintln(out, snap.Error)
			}
			fmt.Fprintf(out, "session %s\n", snap.SessionID)

			if len(args) > 0 || in.Audio != "" || len(in.Attachments) > 0 {
				in.Text = strings.Join(args, " ")
				return sendAndPrint(ctx, ctrl, in, out)
			}

			printMessages(out, snap.Messages)
			return repl(ctx, a.Sessions, ctrl, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume this session instead of starting a new one")
	cmd.Flags().StringSliceVarP(&attach, "attach", "a", nil, "Attach a file (repeatable)")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Send a WAV recording as a voice message")
	cmd.Flags().StringSliceVar(&sections, "section", nil, "Knowledge sections to search (repeatable)")
	return cmd
}

func repl(ctx context.Context, sessions *session.Manager, ctrl *session.Controller, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := sendAndPrint(ctx, ctrl, session.Input{Text: line}, out); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return nil
		case "/new":
			next, err := sessions.StartNew(ctx, ctrl.SessionID())
			if err != nil {
				return explain(err)
			}
			ctrl = next
			fmt.Fprintf(out, "session %s\n", ctrl.SessionID())
		case "/like", "/dislike":
			if len(fields) != 2 {
				fmt.Fprintf(out, "usage: %s <message-id>\n", fields[0])
				continue
			}
			if err := ctrl.SetFeedback(ctx, fields[1], boolPtr(fields[0] == "/like")); err != nil {
				fmt.Fprintln(out, "error:", explain(err))
			}
		default:
			fmt.Fprintf(out, "unknown command %s\n", fields[0])
		}
	}
}

// sendAndPrint sends one turn and prints the reply as it streams in
func sendAndPrint(ctx context.Context, ctrl *session.Controller, in session.Input, out io.Writer) error {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	<-updates

	turn, err := ctrl.SendMessage(ctx, in)
	if err != nil {
		return explain(err)
	}

	p := &streamPrinter{out: out, index: len(ctrl.Snapshot().Messages) - 1}
	fmt.Fprint(out, "bot> ")

wait:
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				break wait
			}
			p.update(snap)
		case <-turn.Done():
			break wait
		case <-ctx.Done():
			ctrl.Cancel()
			<-turn.Done()
			break wait
		}
	}
	p.update(ctrl.Snapshot())
	fmt.Fprintln(out)

	if err := turn.Err(); err != nil {
		return explain(err)
	}
	if id := turn.MessageID(); id != "" {
		fmt.Fprintf(out, "[message %s]\n", id)
	}
	return nil
}

// streamPrinter writes the growth of one message across snapshots
type streamPrinter struct {
	out     io.Writer
	index   int
	printed string
}

func (p *streamPrinter) update(snap domain.Snapshot) {
	if p.index < 0 || p.index >= len(snap.Messages) {
		return
	}
	m := snap.Messages[p.index]
	if m.Sender == domain.SenderUser || m.Text == p.printed {
		return
	}

	if strings.HasPrefix(m.Text, p.printed) {
		fmt.Fprint(p.out, m.Text[len(p.printed):])
	} else {
		// the reply was replaced, e.g. by an error message
		fmt.Fprint(p.out, "\n"+m.Text)
	}
	p.printed = m.Text
}

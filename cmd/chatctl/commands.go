package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/spf13/cobra"
)

func newLoginCmd(e *env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("CHAT_PASSWORD")
			}

			login := domain.UserLogin{Email: email, Password: password}
			if _, err := a.Client.Login(cmd.Context(), login); err != nil {
				var transportErr *domain.TransportError
				if errors.As(err, &transportErr) {
					return errors.New(transportErr.Message())
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (default $CHAT_PASSWORD)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			if err := a.Client.Logout(cmd.Context()); err != nil {
				return err
			}
			for _, hook := range a.LogoutHooks() {
				hook(cmd.Context())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			user, err := a.Client.Me(cmd.Context())
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.Email)
			return nil
		},
	}
}

func newInfoCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the chatbot's sections and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			info, err := a.LoadInfo(cmd.Context())
			if err != nil {
				return explain(err)
			}

			out := cmd.OutOrStdout()
			if info.CompanyName != "" {
				fmt.Fprintf(out, "Company:  %s\n", info.CompanyName)
			}
			if info.Version != "" {
				fmt.Fprintf(out, "Version:  %s\n", info.Version)
			}
			fmt.Fprintf(out, "Sections: %s\n", strings.Join(info.Sections, ", "))
			fmt.Fprintf(out, "Files:    %t\n", info.FilePermission)
			return nil
		},
	}
}

func newSessionsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.load(cmd)
			if err != nil {
				return err
			}
			sessions, err := a.Client.ListSessions(cmd.Context())
			if err != nil {
				return explain(err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
			for _, s := range sessions {
				updated := ""
				if s.UpdatedAt != nil {
					updated = s.UpdatedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, updated)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := openSession(cmd, e, args[0])
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), ctrl.Snapshot().Messages)
			return nil
		},
	}
}

func newFeedbackCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "feedback <session-id> <message-id> like|dislike|clear",
		Short:     "Rate a bot reply",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"like", "dislike", "clear"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var liked *bool
			switch args[2] {
			case "like":
				liked = boolPtr(true)
			case "dislike":
				liked = boolPtr(false)
			case "clear":
			default:
				return fmt.Errorf("unknown rating %q", args[2])
			}

			ctrl, err := openSession(cmd, e, args[0])
			if err != nil {
				return err
			}
			if err := ctrl.SetFeedback(cmd.Context(), args[1], liked); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Feedback saved")
			return nil
		},
	}
}

func newExportCmd(e *env) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <session-id> <message-id>",
		Short: "Download a bot reply as a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := openSession(cmd, e, args[0])
			if err != nil {
				return err
			}
			blob, err := ctrl.Export(cmd.Context(), args[1])
			if err != nil {
				return explain(err)
			}
			if output == "" {
				output = blob.FileName
			}
			return writeBlob(cmd, output, blob)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: name sent by the server)")
	return cmd
}

func newSpeakCmd(e *env) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "speak <session-id> <message-id>",
		Short: "Save the read-aloud audio of a bot reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := openSession(cmd, e, args[0])
			if err != nil {
				return err
			}
			blob, err := ctrl.ReadAloud(cmd.Context(), args[1])
			if err != nil {
				return explain(err)
			}
			return writeBlob(cmd, output, blob)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "reply.mp3", "Output file")
	return cmd
}

func newFilesCmd(e *env) *cobra.Command {
	files := &cobra.Command{
		Use:   "files",
		Short: "Manage the chatbot's document library",
	}

	files.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List uploaded documents",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.load(cmd)
				if err != nil {
					return err
				}
				list, err := a.Client.ListFiles(cmd.Context())
				if err != nil {
					return explain(err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tUPLOADED")
				for _, f := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.UploadedAt)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "upload <path>",
			Short: "Upload a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.load(cmd)
				if err != nil {
					return err
				}
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				uploaded, err := a.Client.UploadFile(cmd.Context(), filepath.Base(args[0]), f)
				if err != nil {
					return explain(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (id %s)\n", filepath.Base(args[0]), uploaded.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <file-id>",
			Short: "Delete a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.load(cmd)
				if err != nil {
					return err
				}
				if err := a.Client.DeleteFile(cmd.Context(), args[0]); err != nil {
					return explain(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
				return nil
			},
		},
	)
	return files
}

// openSession resumes a session through a controller so the feedback gate
// and blob cache apply as they do for the bridge. Unlike the controller it
// refuses unknown ids instead of starting a new session.
func openSession(cmd *cobra.Command, e *env, sessionID string) (*session.Controller, error) {
	a, err := e.load(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := a.Client.ListMessages(cmd.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, explain(err)
	}

	ctrl, err := a.Sessions.Open(cmd.Context(), sessionID)
	if err != nil {
		return nil, explain(err)
	}
	return ctrl, nil
}

func writeBlob(cmd *cobra.Command, path string, blob *domain.Blob) error {
	if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(blob.Data))
	return nil
}

func printMessages(w io.Writer, messages []domain.Message) {
	for _, m := range messages {
		switch m.Sender {
		case domain.SenderUser:
			fmt.Fprintf(w, "you> %s\n", m.Text)
		case domain.SenderError:
			fmt.Fprintf(w, "!! %s\n", m.Text)
		default:
			fmt.Fprintf(w, "bot [%s]%s> %s\n", m.ID, likedMark(m.IsLiked), m.Text)
		}
	}
}

func likedMark(v *bool) string {
	switch {
	case v == nil:
		return ""
	case *v:
		return " +1"
	default:
		return " -1"
	}
}

// explain turns the error taxonomy into a line worth printing
func explain(err error) error {
	var transportErr *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return errors.New("not logged in or the login expired; run chatctl login")
	case errors.As(err, &transportErr):
		return errors.New(transportErr.Message())
	}
	return err
}

func boolPtr(v bool) *bool { return &v }

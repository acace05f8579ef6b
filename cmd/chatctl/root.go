package main

import (
	"errors"
	"os"

	"github.com/Rrens/chatstream/internal/app"
	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/logger"
	"github.com/spf13/cobra"
)

// env lazily builds the client stack the first time a command needs it
type env struct {
	verbose bool
	app     *app.App
}

func (e *env) load(cmd *cobra.Command) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if e.verbose {
		cfg.Logging.Level = "debug"
	} else if os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "warn"
	}
	if _, _, err := logger.Setup(cfg.Logging); err != nil {
		return nil, err
	}

	// a CLI login has to outlive the process
	if cfg.Credentials.Store == "memory" {
		cfg.Credentials.Store = "file"
	}
	if cfg.Credentials.Secret == "" {
		return nil, errors.New("set CREDENTIAL_SECRET to keep the login between runs")
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		e.app.Close()
	}
}

// newRootCmd builds the command tree. The returned func releases whatever
// the commands opened.
func newRootCmd() (*cobra.Command, func()) {
	e := &env{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat with the assistant backend from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Log requests and stream events")

	root.AddCommand(
		newLoginCmd(e),
		newLogoutCmd(e),
		newWhoamiCmd(e),
		newInfoCmd(e),
		newSessionsCmd(e),
		newHistoryCmd(e),
		newChatCmd(e),
		newFeedbackCmd(e),
		newExportCmd(e),
		newSpeakCmd(e),
		newFilesCmd(e),
	)

	return root, e.close
}

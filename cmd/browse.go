package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/ui"
	"github.com/urfave/cli/v3"
)

// Browse launches the interactive terminal browser.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.tree.Populate(ctx); err != nil {
		r.logger.Warn("some sections could not be read", "error", err)
	}

	model := ui.NewModel(lib.tree, lib.dispatcher)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running browser: %w", err)
	}

	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tree"
	"github.com/urfave/cli/v3"
)

// Play hands the item at a tree path to the player and records it as the current context.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("last") {
		return r.lastPlayed(ctx, cmd)
	}

	raw := cmd.StringArg("path")
	if raw == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	p, err := tree.ParsePath(raw)
	if err != nil {
		return err
	}

	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.tree.Populate(ctx); err != nil {
		r.logger.Warn("some sections could not be read", "error", err)
	}

	select {
	case res := <-lib.tree.LoadChildren(p):
		if res.Err != nil {
			r.logger.Warn("could not refresh item, playing local copy", "path", p.String(), "error", res.Err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-lib.dispatcher.InitiatePlayback(p):
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	lib.player.Wait()

	pc, ok := lib.player.Current()
	if !ok {
		return r.writePlain("Nothing to play at %s\n", p)
	}
	mode := "streaming"
	if pc.Element.IsCached() {
		mode = "offline"
	}
	return r.writePlain("▶ %s (%s, %s)\n", pc.Name, pc.Element.Kind(), mode)
}

// lastPlayed prints the last stored player context.
func (r *Runner) lastPlayed(ctx context.Context, cmd *cli.Command) error {
	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	state, err := lib.player.LastState()
	if err != nil {
		return err
	}
	if state.ContextID == "" {
		return r.writePlain("Nothing played yet\n")
	}
	return r.writePlain("Last played: %s (%s) at index %d, %s\n",
		state.ContextName, state.ContextKind, state.Index, state.UpdatedAt.Format("2006-01-02 15:04"))
}

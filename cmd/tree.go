package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/shelf/internal/formatter"
	"github.com/desertthunder/shelf/internal/tree"
	"github.com/urfave/cli/v3"
)

// Tree prints the content tree, optionally loading every node first.
func (r *Runner) Tree(ctx context.Context, cmd *cli.Command) error {
	root, err := tree.ParsePath(cmd.String("path"))
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

	if cmd.Bool("load") {
		if err := loadAll(ctx, lib.tree, root); err != nil {
			r.logger.Warn("some nodes failed to load", "error", err)
		}
	}

	rows := formatter.Flatten(lib.tree, root)
	title := "Library"
	if len(root) > 0 {
		if d, ok := lib.tree.ContentAt(root); ok {
			title = d.Title
		}
	}

	if dir := cmd.String("export-dir"); dir != "" {
		result, err := formatter.WriteMarkdownExport(title, rows, dir)
		if err != nil {
			return err
		}
		r.logger.Info("export written", "dir", result.Directory, "files", len(result.Files), "covers", result.Covers)
		return r.writePlain("✓ Exported %d nodes to %s\n", len(rows), result.Directory)
	}

	data, err := formatter.Render(cmd.String("format"), title, rows)
	if err != nil {
		return err
	}

	if out := cmd.String("output"); out != "" {
		if err := formatter.WriteExport(out, data); err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %d nodes to %s\n", len(rows), out)
	}

	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// loadAll loads the nodes below root level by level. Failed nodes are reported
// together and do not stop the walk.
func loadAll(ctx context.Context, t *tree.Tree, root tree.Path) error {
	var errs []error

	level := []tree.Path{root}
	for len(level) > 0 {
		var pending []<-chan tree.LoadResult
		for _, p := range level {
			if len(p) > 0 {
				pending = append(pending, t.LoadChildren(p))
			}
		}

		for _, results := range pending {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case res := <-results:
				if res.Err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
				}
			}
		}

		var next []tree.Path
		for _, p := range level {
			if len(p)+1 >= tree.MaxDepth {
				continue
			}
			for i := range t.ChildCount(p) {
				next = append(next, p.Child(i))
			}
		}
		level = next
	}

	return errors.Join(errs...)
}

// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for the configuration and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write an example configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
		},
	}
}

// syncCommand refreshes the library from the backend
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch the newest songs, playlists and podcasts",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Sync,
	}
}

// treeCommand prints the content tree
func treeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tree",
		Usage: "Print the library tree",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, markdown, csv or json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Only print below this node, e.g. 0 or 0.1",
			},
			&cli.BoolFlag{
				Name:  "load",
				Usage: "Load every section and item before printing",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to a file instead of stdout",
			},
			&cli.StringFlag{
				Name:  "export-dir",
				Usage: "Write README.md and cover images to a directory",
			},
		},
		Action: r.Tree,
	}
}

// downloadCommand manages the download queue
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Download songs and episodes for offline use",
		Commands: []*cli.Command{
			{
				Name:  "enqueue",
				Usage: "Queue the item at a tree path",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.DownloadEnqueue,
			},
			{
				Name:  "run",
				Usage: "Download everything pending",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.DownloadRun,
			},
			{
				Name:  "status",
				Usage: "Show queue counts",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "failed",
						Usage: "List failed downloads",
					},
				},
				Action: r.DownloadStatus,
			},
		},
	}
}

// playCommand hands an item to the player
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Play the item at a tree path",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "last",
				Usage: "Show the last played item instead",
			},
		},
		Action: r.Play,
	}
}

// serveCommand runs the HTTP surface
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the library tree and metrics over HTTP",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides [server] in the config",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the tree in the default browser",
			},
		},
		Action: r.Serve,
	}
}

// browseCommand returns the top-level TUI command for browsing the library.
func browseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive library browser",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the browser is open",
				Value: "./tmp/shelf-browse.log",
			},
		},
		Action: r.Browse,
	}
}

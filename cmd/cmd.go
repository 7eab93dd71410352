// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"o"},
		Usage:   "Output format: text, json, csv or markdown",
		Value:   "text",
	}
}

// syncCommand runs one pass, or keeps polling with --follow
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch watchlists and add new items to Radarr and Sonarr",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would be added without calling targets or writing the ledger",
			},
			&cli.BoolFlag{
				Name:  "force-refresh",
				Usage: "Bypass cached metadata and identifiers",
			},
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep running and poll each source on its interval",
			},
			&cli.BoolFlag{
				Name:  "ignore-existing",
				Usage: "Treat everything on a source's first fetch as already handled",
			},
			&cli.FloatFlag{
				Name:  "min-rating",
				Usage: "Skip rated items below this rating (0-5)",
			},
			&cli.BoolFlag{
				Name:  "items",
				Usage: "List every item in the summary",
			},
			formatFlag(),
		},
		Action: r.Sync,
	}
}

// baselineCommand captures or resets per-source baselines
func baselineCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "baseline",
		Usage: "Mark everything currently on the watchlists as already handled (used with --ignore-existing)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Forget the baseline instead of capturing it",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Limit to one source (plex, letterboxd or trakt)",
			},
		},
		Action: r.Baseline,
	}
}

// historyCommand prints ledger rows
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent sync history",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of rows",
				Value:   20,
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only rows with this status (success, pending, skipped, failed)",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Only rows for this target (radarr or sonarr)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Only rows from this source",
			},
			formatFlag(),
		},
		Action: r.History,
	}
}

// statusCommand summarises configuration and ledger state
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show configured sources and targets with ledger counts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ping",
				Usage: "Check that the enabled targets answer",
			},
			formatFlag(),
		},
		Action: r.Status,
	}
}

// clearCommand deletes ledger rows or cached data
func clearCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete sync history or cached metadata",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "cache",
				Usage: "Clear the metadata cache instead of the ledger",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only delete ledger rows with this status",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Confirm the deletion",
			},
		},
		Action: r.Clear,
	}
}

// setupCommand creates the config file and database
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create a config file from the template and initialize the database",
		Action: r.Setup,
	}
}

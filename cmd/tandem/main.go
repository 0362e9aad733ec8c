// Package main is the entry point for the tandem playback service: a shared
// audiobook player whose pop-out window stays in lockstep with the main one
// over a broadcast channel.
//
// Environment Variables:
//   PORT                 (optional) HTTP control server port (default: 8080)
//   LOG_LEVEL            (optional) Log level (debug, info, warn, error)
//   LOG_FORMAT           (optional) Log format (json, console)
//   SYNC_CHANNEL         (optional) Broadcast channel name
//   SYNC_RELAY_URL       (optional) Websocket relay URL for cross-process sync
//   DATABASE_FILE        (optional) SQLite file for progress and bookmarks
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fablehaus/tandem/internal/logger"
)

// init initializes the logger with default values
func init() {
	logger.Setup(logger.Config{
		Level:      "info",
		Format:     logger.FormatJSON,
		TimeFormat: time.RFC3339,
	})
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "tandem",
		Usage:   "Audiobook player with a synchronized pop-out window",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "play",
				Usage:  "Run the player with its HTTP control surface",
				Action: runPlay,
			},
			{
				Name:  "relay",
				Usage: "Run a websocket relay for cross-process window sync",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
						Value: ":9090",
					},
				},
				Action: runRelay,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

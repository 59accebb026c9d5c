package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

type metadata struct {
	proxy   string
	verbose bool
	e       io.Writer
	w       io.Writer
}

var version = "zero"

func main() {
	app := cli.NewApp()
	app.Name = "oblivkv-cli"
	app.Usage = "talk to an oblivkv proxy"
	app.Version = version
	app.HideVersion = true

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "proxy, p",
			Value:  "127.0.0.1:5000",
			Usage:  " proxy `HOST:PORT` or URL",
			EnvVar: "OBLIVKV_PROXY",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " verbose result",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "get",
			Usage:     "read one key",
			ArgsUsage: "KEY",
			Action:    runGet,
		},
		{
			Name:      "put",
			Usage:     "write one key",
			ArgsUsage: "KEY VALUE",
			Action:    runPut,
		},
		{
			Name:      "batch",
			Usage:     "send a JSON batch [{rid, op, key, val}] as one round",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "file, f",
					Value: "-",
					Usage: "*batch `FILE`, - for stdin",
				},
			},
			Action: runBatch,
		},
		{
			Name:   "health",
			Usage:  "show the proxy's round counters",
			Action: runHealth,
		},
		{
			Name:  "secret",
			Usage: "generate a hex secret for the proxy configuration",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "bytes, b",
					Value: 32,
					Usage: " secret length in `BYTES`",
				},
			},
			Action: runSecret,
		},
	}

	app.Before = func(c *cli.Context) error {
		c.App.Metadata = map[string]interface{}{
			"config": &metadata{
				proxy:   c.GlobalString("proxy"),
				verbose: c.GlobalBool("verbose"),
				e:       c.App.ErrWriter,
				w:       c.App.Writer,
			},
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}

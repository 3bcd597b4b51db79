package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/projecteru2/yaimg/cmd/image"
	"github.com/projecteru2/yaimg/ver"
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println(ver.Version())
	}

	app := &cli.App{
		Name:  "yaimg",
		Usage: "qemu disk image toolkit",

		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "config",
				Usage: "config files",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "root dir relative image names resolve under",
			},
		},

		Commands: []*cli.Command{
			image.Command(),
		},

		Version: "v",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", errors.WithStack(err))
		os.Exit(1)
	}
}

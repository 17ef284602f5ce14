/*
Command-line tool for spooling MIME message bodies.

Usage:

	$ mimespool [<flags>] <subcommand> [<args> ...]

Use 'mimespool help' to see more details.
*/
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kopia/mimespool/cli"
)

// BuildVersion is set at link time.
var BuildVersion = "v0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.NewApp()
	app.SetRootContext(ctx)

	kp := kingpin.New("mimespool", "Spooler of MIME message bodies").Version(BuildVersion)

	app.Attach(kp)

	kingpin.MustParse(kp.Parse(os.Args[1:]))
}

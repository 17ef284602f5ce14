package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

//nolint:gochecknoglobals
var (
	labelColor   = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
)

type textOutput struct {
	svc appServices
}

func (o *textOutput) setup(svc appServices) {
	o.svc = svc
}

func (o *textOutput) stdout() io.Writer {
	return o.svc.stdout()
}

func (o *textOutput) printStdout(msg string, args ...interface{}) {
	fmt.Fprintf(o.stdout(), msg, args...) //nolint:errcheck
}

// printField prints a labeled value on its own line.
func (o *textOutput) printField(label string, value interface{}) {
	labelColor.Fprintf(o.stdout(), "%-14s", label+":") //nolint:errcheck
	fmt.Fprintf(o.stdout(), " %v\n", value)            //nolint:errcheck
}

func (o *textOutput) printWarning(msg string, args ...interface{}) {
	warningColor.Fprintf(o.svc.stderr(), msg, args...) //nolint:errcheck
}

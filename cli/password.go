package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

var errNoTerminal = errors.New("password is required but standard input is not a terminal")

// askPass prompts for a password on the terminal without echo.
func askPass(out io.Writer, prompt string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", errNoTerminal
	}

	for range 5 {
		fmt.Fprint(out, prompt) //nolint:errcheck

		passBytes, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec
		if err != nil {
			return "", errors.Wrap(err, "password prompt error")
		}

		fmt.Fprintln(out) //nolint:errcheck

		if len(passBytes) == 0 {
			continue
		}

		return string(passBytes), nil
	}

	return "", errors.New("can't get password")
}

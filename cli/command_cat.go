package cli

import (
	"context"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/internal/tempstore"
)

type commandCat struct {
	name string

	svc appServices
}

func (c *commandCat) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("cat", "Write the contents of a spool file to standard output.")
	cmd.Arg("name", "Name or path of the spool file").Required().StringVar(&c.name)
	cmd.Action(svc.spoolAction(c.run))

	c.svc = svc
}

func (c *commandCat) run(ctx context.Context, st *tempstore.Storage) error {
	root, err := st.RootPath(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to open spool directory")
	}

	name, err := spoolFileName(root, c.name)
	if err != nil {
		return err
	}

	f, err := root.Open(ctx, name)
	if err != nil {
		return errors.Wrap(err, "unable to open spool file")
	}

	r, err := f.OpenForRead()
	if err != nil {
		return errors.Wrap(err, "unable to read spool file")
	}

	defer r.Close() //nolint:errcheck

	n, err := iocopy.Copy(c.svc.stdout(), r)
	if err != nil {
		return errors.Wrap(err, "error copying spool file")
	}

	log(ctx).Debugf("wrote %v bytes from %v", n, f.Path())

	return nil
}

// spoolFileName returns the name of a file directly under the spool root given its name or path.
func spoolFileName(root *tempstore.Path, s string) (string, error) {
	if filepath.Base(s) == s {
		return s, nil
	}

	abs, err := filepath.Abs(s)
	if err != nil {
		return "", errors.Wrap(err, "invalid path")
	}

	if filepath.Dir(abs) != filepath.Clean(root.Dir()) {
		return "", errors.Errorf("%v is not in the spool directory %v", s, root.Dir())
	}

	return filepath.Base(abs), nil
}

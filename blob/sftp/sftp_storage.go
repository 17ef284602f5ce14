// Package sftp implements blob storage on top of an SFTP server.
package sftp

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("blob/sftp")

const (
	sftpStorageType         = "sftp"
	fsStorageChunkSuffix    = ".f"
	tempFileRandomSuffixLen = 8
	defaultPort             = 22

	packetSize = 1 << 15
)

type sftpStorage struct {
	Options

	conn *ssh.Client
	cli  *sftp.Client
}

func (s *sftpStorage) blobPath(id blob.ID) (string, error) {
	str := string(id)
	if str == "" || strings.ContainsAny(str, `/\`) || str == "." || str == ".." {
		return "", errors.Errorf("invalid blob ID %q", id)
	}

	return path.Join(s.Path, str+fsStorageChunkSuffix), nil
}

func (s *sftpStorage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	fullPath, err := s.blobPath(id)
	if err != nil {
		return nil, err
	}

	r, err := s.cli.Open(fullPath)
	if isNotExist(err) {
		return nil, blob.ErrBlobNotFound
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unrecognized error when opening SFTP file %v", fullPath)
	}

	return r, nil
}

func (s *sftpStorage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	fullPath, err := s.blobPath(id)
	if err != nil {
		return blob.Metadata{}, err
	}

	fi, err := s.cli.Stat(fullPath)
	if isNotExist(err) {
		return blob.Metadata{}, blob.ErrBlobNotFound
	}

	if err != nil {
		return blob.Metadata{}, errors.Wrapf(err, "unrecognized error when calling stat() on SFTP file %v", fullPath)
	}

	return blob.Metadata{
		BlobID:    id,
		Length:    fi.Size(),
		Timestamp: fi.ModTime(),
	}, nil
}

func (s *sftpStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	fullPath, err := s.blobPath(id)
	if err != nil {
		return err
	}

	randSuffix := make([]byte, tempFileRandomSuffixLen)
	if _, err := rand.Read(randSuffix); err != nil {
		return errors.Wrap(err, "can't get random bytes")
	}

	tempFile := fmt.Sprintf("%s.tmp.%x", fullPath, randSuffix)

	f, err := s.cli.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL)
	if err != nil {
		return errors.Wrap(err, "cannot create temporary file")
	}

	n, err := iocopy.Copy(f, data)
	if err == nil {
		err = blob.EnsureLengthExactly(n, length)
	}

	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = errors.Wrap(closeErr, "can't close temporary file")
	}

	if err == nil {
		err = errors.Wrap(s.cli.PosixRename(tempFile, fullPath), "unexpected error renaming file on SFTP")
	}

	if err != nil {
		if removeErr := s.cli.Remove(tempFile); removeErr != nil && !isNotExist(removeErr) {
			log(ctx).Errorf("warning: can't remove temp file: %v", removeErr)
		}

		return err
	}

	return nil
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return true
	}

	var se *sftp.StatusError
	if errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxNoSuchFile {
		return true
	}

	return strings.Contains(err.Error(), "does not exist")
}

func (s *sftpStorage) DeleteBlob(ctx context.Context, id blob.ID) error {
	fullPath, err := s.blobPath(id)
	if err != nil {
		return err
	}

	err = s.cli.Remove(fullPath)
	if err == nil || isNotExist(err) {
		return nil
	}

	return errors.Wrapf(err, "error deleting SFTP file %v", fullPath)
}

func (s *sftpStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	entries, err := s.cli.ReadDir(s.Path)
	if err != nil {
		return errors.Wrapf(err, "error listing %v", s.Path)
	}

	for _, fi := range entries {
		name := fi.Name()
		if !fi.Mode().IsRegular() || !strings.HasSuffix(name, fsStorageChunkSuffix) {
			continue
		}

		id := blob.ID(strings.TrimSuffix(name, fsStorageChunkSuffix))
		if !strings.HasPrefix(string(id), string(prefix)) {
			continue
		}

		if err := callback(blob.Metadata{
			BlobID:    id,
			Length:    fi.Size(),
			Timestamp: fi.ModTime(),
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *sftpStorage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   sftpStorageType,
		Config: &s.Options,
	}
}

func (s *sftpStorage) DisplayName() string {
	return fmt.Sprintf("SFTP %v@%v", s.Username, s.Host)
}

func (s *sftpStorage) Close(ctx context.Context) error {
	if err := s.cli.Close(); err != nil {
		return errors.Wrap(err, "closing SFTP client")
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "closing SFTP connection")
	}

	return nil
}

func getHostKeyCallback(opt *Options) (ssh.HostKeyCallback, error) {
	if opt.KnownHostsData != "" {
		tf, err := os.CreateTemp("", "mimespool-known-hosts")
		if err != nil {
			return nil, errors.Wrap(err, "error creating temp file")
		}

		defer os.Remove(tf.Name()) //nolint:errcheck

		_, err = io.WriteString(tf, opt.KnownHostsData)
		if cerr := tf.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			return nil, errors.Wrap(err, "error writing temporary file")
		}

		//nolint:wrapcheck
		return knownhosts.New(tf.Name())
	}

	if f := opt.knownHostsFile(); !filepath.IsAbs(f) {
		return nil, errors.Errorf("known hosts path must be absolute")
	}

	//nolint:wrapcheck
	return knownhosts.New(opt.knownHostsFile())
}

func getAuthMethods(opts *Options) ([]ssh.AuthMethod, error) {
	if opts.Keyfile == "" && opts.KeyData == "" {
		if opts.Password != "" {
			return []ssh.AuthMethod{ssh.Password(opts.Password)}, nil
		}

		return nil, errors.New("must specify the location of the ssh private key, the key data or a password")
	}

	var privateKeyData []byte

	if opts.KeyData != "" {
		privateKeyData = []byte(opts.KeyData)
	} else {
		if f := opts.Keyfile; !filepath.IsAbs(f) {
			return nil, errors.Errorf("key file path must be absolute")
		}

		var err error

		privateKeyData, err = os.ReadFile(opts.Keyfile)
		if err != nil {
			return nil, errors.Wrap(err, "error reading private key file")
		}
	}

	key, err := ssh.ParsePrivateKey(privateKeyData)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing private key")
	}

	return []ssh.AuthMethod{ssh.PublicKeys(key)}, nil
}

func createSSHConfig(ctx context.Context, opts *Options) (*ssh.ClientConfig, error) {
	log(ctx).Debugf("using built-in SSH connection")

	hostKeyCallback, err := getHostKeyCallback(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to getHostKey: %s", opts.Host)
	}

	auth, err := getAuthMethods(opts)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// New creates new sftp-backed storage, creating the remote directory if needed.
func New(ctx context.Context, opts *Options) (blob.Storage, error) {
	if opts.Host == "" || opts.Path == "" {
		return nil, errors.New("host and path must be specified")
	}

	config, err := createSSHConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.port()))

	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial [%s]", addr)
	}

	c, err := sftp.NewClient(conn, sftp.MaxPacket(packetSize))
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "unable to create sftp client")
	}

	if _, err = c.Stat(opts.Path); err != nil {
		if !isNotExist(err) {
			c.Close()    //nolint:errcheck
			conn.Close() //nolint:errcheck

			return nil, errors.Wrapf(err, "unable to stat %s", opts.Path)
		}

		if err = c.MkdirAll(opts.Path); err != nil {
			c.Close()    //nolint:errcheck
			conn.Close() //nolint:errcheck

			return nil, errors.Wrap(err, "cannot create path")
		}
	}

	return &sftpStorage{
		Options: *opts,
		conn:    conn,
		cli:     c,
	}, nil
}

func init() {
	blob.AddSupportedStorage(sftpStorageType, Options{}, New)
}

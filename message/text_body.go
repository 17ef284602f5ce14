package message

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/kopia/mimespool/internal/iocopy"
)

// DefaultCharset is the charset of text bodies that do not declare one.
const DefaultCharset = "us-ascii"

// TextBody is a binary body carrying text in a declared charset.
// The bytes are stored as received; no charset conversion takes place.
type TextBody struct {
	*BinaryBody

	charset string
}

// NewTextBody spools src using the provider and labels it with the charset.
func NewTextBody(ctx context.Context, provider StorageProvider, src io.Reader, charset string) (*TextBody, error) {
	b, err := FromStream(ctx, provider, src)
	if err != nil {
		return nil, err
	}

	return &TextBody{BinaryBody: b, charset: CanonicalCharset(charset)}, nil
}

// CanonicalCharset returns the lower-cased preferred MIME name of a charset label,
// so that aliases such as "latin1" and "ISO_8859-1" compare equal.
// Unregistered labels are only lower-cased.
func CanonicalCharset(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultCharset
	}

	enc, err := ianaindex.MIME.Encoding(label)
	if err != nil || enc == nil {
		return strings.ToLower(label)
	}

	name, err := ianaindex.MIME.Name(enc)
	if err != nil {
		return strings.ToLower(label)
	}

	return strings.ToLower(name)
}

// Charset returns the canonical charset label of the text.
func (t *TextBody) Charset() string {
	return t.charset
}

// Text returns the raw contents as a string.
func (t *TextBody) Text(ctx context.Context) (string, error) {
	rc, err := t.Reader(ctx)
	if err != nil {
		return "", err
	}

	defer rc.Close() //nolint:errcheck

	var sb strings.Builder

	if _, err := iocopy.Copy(&sb, rc); err != nil {
		return "", newIOFailure("read text", errors.Wrap(err, t.Location()))
	}

	return sb.String(), nil
}

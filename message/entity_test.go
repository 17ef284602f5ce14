package message_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
	"github.com/kopia/mimespool/message"
)

func TestHeader(t *testing.T) {
	var h message.Header

	h.Add("Content-Type", "text/plain")
	h.Add("Received", "a")
	h.Add("received", "b")
	h.Add("Subject", "hi")

	require.Equal(t, "text/plain", h.Get("content-type"))
	require.Equal(t, []string{"a", "b"}, h.Values("RECEIVED"))
	require.Empty(t, h.Get("X-Missing"))

	h.Set("Received", "c")
	require.Equal(t, []message.Field{
		{"Content-Type", "text/plain"},
		{"Received", "c"},
		{"Subject", "hi"},
	}, h.Fields())

	h.Set("X-New", "1")
	h.Del("subject")
	require.Equal(t, []message.Field{
		{"Content-Type", "text/plain"},
		{"Received", "c"},
		{"X-New", "1"},
	}, h.Fields())
}

func TestEntityBodyLinks(t *testing.T) {
	ctx := testlogging.Context(t)
	mem := &message.MemoryStorageProvider{}

	b1, err := message.FromStream(ctx, mem, strings.NewReader("one"))
	require.NoError(t, err)

	b2, err := message.FromStream(ctx, mem, strings.NewReader("two"))
	require.NoError(t, err)

	e := message.NewEntity(b1)
	require.Same(t, e, b1.Parent())

	prev := e.SetBody(b2)
	require.Same(t, b1, prev)
	require.Nil(t, b1.Parent())
	require.Same(t, e, b2.Parent())

	require.NoError(t, b1.Dispose(ctx))
	require.NoError(t, e.Dispose(ctx))
	require.True(t, b2.Disposed())
}

func TestMimeType(t *testing.T) {
	e := message.NewEntity(nil)
	require.Equal(t, "text/plain", e.MimeType())

	e.Header.Set("Content-Type", `Image/PNG; name="x.png"`)
	require.Equal(t, "image/png", e.MimeType())

	digest := message.NewMultipart("Digest")
	message.NewEntity(digest)

	part := message.NewEntity(nil)
	digest.AddPart(part)
	require.Equal(t, "message/rfc822", part.MimeType())
}

func TestMessageDisposeCascade(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	mixed := message.NewMultipart("mixed")
	msg := message.NewMessage(mixed)

	text, err := message.NewTextBody(ctx, &message.TempFileStorageProvider{Storage: st}, strings.NewReader("hello"), "UTF-8")
	require.NoError(t, err)
	require.Equal(t, "utf-8", text.Charset())

	s, err := text.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	mixed.AddPart(message.NewEntity(text))

	inner := message.NewMultipart("alternative")
	mixed.AddPart(message.NewEntity(inner))

	for i := range 5 {
		b, err := message.NewBinaryBody(ctx, st, strings.NewReader(strings.Repeat("z", i*1000)))
		require.NoError(t, err)

		inner.AddPart(message.NewEntity(b))
	}

	require.Equal(t, 2, mixed.Count())
	require.Equal(t, 5, inner.Count())
	require.Same(t, &msg.Entity, mixed.Parts()[0].Parent())
	require.Same(t, mixed.Parts()[1], inner.Parts()[0].Parent())
	require.Equal(t, 6, testutil.CountFiles(t, dir))

	removed := inner.RemovePart(0)
	require.Nil(t, removed.Parent())
	require.Equal(t, 4, inner.Count())

	require.NoError(t, msg.Dispose(ctx))
	require.Equal(t, 1, testutil.CountFiles(t, dir))

	require.NoError(t, removed.Dispose(ctx))
	require.Equal(t, 0, testutil.CountFiles(t, dir))

	// disposing again is a no-op.
	require.NoError(t, msg.Dispose(ctx))
}

type failingBody struct {
	parent   atomic.Pointer[message.Entity]
	disposed atomic.Bool
	err      error
}

func (b *failingBody) Parent() *message.Entity     { return b.parent.Load() }
func (b *failingBody) SetParent(e *message.Entity) { b.parent.Store(e) }

func (b *failingBody) Dispose(ctx context.Context) error {
	b.disposed.Store(true)
	return b.err
}

func TestMultipartDisposeAttemptsAllParts(t *testing.T) {
	ctx := testlogging.Context(t)

	mp := message.NewMultipart("mixed")

	var bodies []*failingBody

	for i := range 10 {
		b := &failingBody{}
		if i == 3 {
			b.err = errBoom
		}

		bodies = append(bodies, b)
		mp.AddPart(message.NewEntity(b))
	}

	require.ErrorIs(t, mp.Dispose(ctx), errBoom)

	for _, b := range bodies {
		require.True(t, b.disposed.Load())
	}
}

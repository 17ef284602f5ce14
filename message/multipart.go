package message

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Multipart is a body made of a sequence of entities.
type Multipart struct {
	parent atomic.Pointer[Entity]

	subtype  string
	preamble string
	epilogue string
	parts    []*Entity
}

var _ Body = (*Multipart)(nil)

// NewMultipart returns an empty multipart body of the given subtype, such as "mixed".
func NewMultipart(subtype string) *Multipart {
	return &Multipart{subtype: strings.ToLower(subtype)}
}

// Subtype returns the multipart subtype.
func (m *Multipart) Subtype() string {
	return m.subtype
}

// Parent implements Body.
func (m *Multipart) Parent() *Entity {
	return m.parent.Load()
}

// SetParent implements Body.
func (m *Multipart) SetParent(e *Entity) {
	m.parent.Store(e)

	for _, p := range m.parts {
		p.SetParent(e)
	}
}

// Preamble returns the text before the first part.
func (m *Multipart) Preamble() string { return m.preamble }

// SetPreamble sets the text before the first part.
func (m *Multipart) SetPreamble(s string) { m.preamble = s }

// Epilogue returns the text after the last part.
func (m *Multipart) Epilogue() string { return m.epilogue }

// SetEpilogue sets the text after the last part.
func (m *Multipart) SetEpilogue(s string) { m.epilogue = s }

// AddPart appends a part. Parts are children of the entity that contains the multipart.
func (m *Multipart) AddPart(e *Entity) {
	e.SetParent(m.Parent())
	m.parts = append(m.parts, e)
}

// RemovePart removes and returns the part at index i. The caller becomes responsible for disposing it.
func (m *Multipart) RemovePart(i int) *Entity {
	e := m.parts[i]
	m.parts = append(m.parts[:i], m.parts[i+1:]...)
	e.SetParent(nil)

	return e
}

// Parts returns the parts in order.
func (m *Multipart) Parts() []*Entity {
	return append([]*Entity(nil), m.parts...)
}

// Count returns the number of parts.
func (m *Multipart) Count() int {
	return len(m.parts)
}

// Dispose disposes all parts concurrently. All parts are attempted and the first error is returned.
func (m *Multipart) Dispose(ctx context.Context) error {
	var eg errgroup.Group

	for _, p := range m.parts {
		eg.Go(func() error {
			return p.Dispose(ctx)
		})
	}

	return errors.Wrap(eg.Wait(), "unable to dispose multipart")
}

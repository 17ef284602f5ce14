package message

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Field is a single header field.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Names are matched case-insensitively.
type Header struct {
	fields []Field
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{name, value})
}

// Set replaces all fields with the given name by a single one, at the position of the first.
func (h *Header) Set(name, value string) {
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			h.fields[i] = Field{name, value}
			h.fields = append(h.fields[:i+1], removeFields(h.fields[i+1:], name)...)

			return
		}
	}

	h.Add(name, value)
}

// Get returns the value of the first field with the given name, empty if there is none.
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}

	return ""
}

// Values returns the values of all fields with the given name.
func (h *Header) Values(name string) []string {
	var res []string

	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			res = append(res, f.Value)
		}
	}

	return res
}

// Del removes all fields with the given name.
func (h *Header) Del(name string) {
	h.fields = removeFields(h.fields, name)
}

// Fields returns a copy of all fields in order.
func (h *Header) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

func removeFields(fields []Field, name string) []Field {
	res := fields[:0]

	for _, f := range fields {
		if !strings.EqualFold(f.Name, name) {
			res = append(res, f)
		}
	}

	return res
}

// Entity is a MIME entity: a header and a body. It owns its body.
type Entity struct {
	Header Header

	parent atomic.Pointer[Entity]
	body   Body
}

// NewEntity returns an entity with the given body, which may be nil.
func NewEntity(body Body) *Entity {
	e := &Entity{}
	e.SetBody(body)

	return e
}

// Parent returns the entity containing this one, nil for the root.
func (e *Entity) Parent() *Entity {
	return e.parent.Load()
}

// SetParent links the entity to its container.
func (e *Entity) SetParent(p *Entity) {
	e.parent.Store(p)
}

// Body returns the body of the entity.
func (e *Entity) Body() Body {
	return e.body
}

// SetBody replaces the body of the entity and returns the previous one, now unlinked.
// The caller becomes responsible for disposing the returned body.
func (e *Entity) SetBody(b Body) Body {
	prev := e.body
	if prev != nil {
		prev.SetParent(nil)
	}

	e.body = b
	if b != nil {
		b.SetParent(e)
	}

	return prev
}

// MimeType returns the media type from the Content-Type field, without parameters.
func (e *Entity) MimeType() string {
	ct := e.Header.Get("Content-Type")
	if ct == "" {
		if p := e.Parent(); p != nil {
			if mp, ok := p.Body().(*Multipart); ok && mp.Subtype() == "digest" {
				return "message/rfc822"
			}
		}

		return "text/plain"
	}

	mt, _, _ := strings.Cut(ct, ";")

	return strings.ToLower(strings.TrimSpace(mt))
}

// Dispose disposes the body of the entity.
func (e *Entity) Dispose(ctx context.Context) error {
	if e.body == nil {
		return nil
	}

	return errors.Wrap(e.body.Dispose(ctx), "unable to dispose entity")
}

// Message is the root entity of a MIME message.
type Message struct {
	Entity
}

// NewMessage returns a message with the given body.
func NewMessage(body Body) *Message {
	m := &Message{}
	m.SetBody(body)

	return m
}

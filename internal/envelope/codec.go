// Package envelope implements the wire header format used on every
// message frame: a self-describing msgpack map followed by an opaque
// tail the hub forwards byte-for-byte (SPEC_FULL.md §4.3).
package envelope

import (
	"bytes"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyphahub/msghub/internal/apperrors"
)

// countingReader wraps a byte slice and records how many bytes the
// decoder has pulled from it, so Decode can report where the header
// ends and the opaque tail begins.
type countingReader struct {
	r        *bytes.Reader
	consumed int
}

func newCountingReader(b []byte) *countingReader {
	return &countingReader{r: bytes.NewReader(b)}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.consumed += n
	return n, err
}

var _ io.Reader = (*countingReader)(nil)

// Header is the decoded routing map at the front of a frame. Only the
// keys the hub inspects are typed; anything else round-trips through
// Extra.
type Header struct {
	WS   string `msgpack:"ws,omitempty"`
	To   string `msgpack:"to,omitempty"`
	From string `msgpack:"from,omitempty"`
	User any    `msgpack:"user,omitempty"`

	Extra map[string]any `msgpack:"-"`
}

// Source identifies the sender of a frame being rewritten: the
// connection's workspace, client id, and the user snapshot to stamp
// onto the outgoing header.
type Source struct {
	Workspace    string
	ClientID     string
	UserSnapshot any
}

// Decode parses the msgpack header at the front of frame and returns
// it alongside the byte offset at which the opaque tail begins.
func Decode(frame []byte) (Header, int, error) {
	cr := newCountingReader(frame)
	dec := msgpack.NewDecoder(cr)
	dec.UseInternedStrings(false)

	raw := make(map[string]any)
	if err := dec.Decode(&raw); err != nil {
		return Header{}, 0, apperrors.InvalidArgumentf("malformed envelope header: %v", err)
	}

	offset := cr.consumed

	h := Header{Extra: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "ws":
			h.WS, _ = v.(string)
		case "to":
			h.To, _ = v.(string)
		case "from":
			h.From, _ = v.(string)
		case "user":
			h.User = v
		default:
			h.Extra[k] = v
		}
	}
	return h, offset, nil
}

// Rewrite applies the §4.3 rewrite rule given the inbound header and
// the sending Connection's identity, producing the header to publish.
func Rewrite(in Header, src Source) (Header, error) {
	target := in.To
	if target == "" {
		target = in.WS
	}

	if !strings.Contains(target, "/") && strings.Contains(target, "workspace-manager-") {
		return Header{}, apperrors.InvalidArgumentf("invalid target %q: fully-qualified broadcast address required", target)
	}

	out := Header{Extra: in.Extra}

	if src.Workspace == "*" {
		// a wildcard connection has no workspace of its own; target
		// carries its own workspace component ("ws/client").
		parts := strings.SplitN(target, "/", 2)
		out.WS = parts[0]
	} else {
		out.WS = src.Workspace
	}

	if strings.Contains(target, "/") {
		out.To = target
	} else {
		out.To = src.Workspace + "/" + target
	}

	out.From = src.Workspace + "/" + src.ClientID
	out.User = src.UserSnapshot

	return out, nil
}

// Encode serializes header and appends tail verbatim, producing a
// frame ready to publish.
func Encode(h Header, tail []byte) ([]byte, error) {
	raw := make(map[string]any, len(h.Extra)+4)
	for k, v := range h.Extra {
		raw[k] = v
	}
	if h.WS != "" {
		raw["ws"] = h.WS
	}
	if h.To != "" {
		raw["to"] = h.To
	}
	if h.From != "" {
		raw["from"] = h.From
	}
	if h.User != nil {
		raw["user"] = h.User
	}

	head, err := msgpack.Marshal(raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+len(tail))
	out = append(out, head...)
	out = append(out, tail...)
	return out, nil
}

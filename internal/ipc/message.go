// Package ipc implements the typed, length-framed message channel of
// spec.md §4.6/§7: a (u32 type, bytes payload) wire format between the
// updater, monitor, and builder processes. Grounded on the teacher's
// internal/build.Ctx.Build, which already opens an os.Pipe(), hands the
// write end to a re-exec'd child via cmd.ExtraFiles, and reads a framed
// payload back with ioutil.ReadAll + proto.Unmarshal; here the single
// one-shot meta message becomes a stream of typed messages.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type is the message taxonomy of spec.md §4.6.
type Type uint32

const (
	ModuleSuccess Type = iota
	ModuleFailure
	ModuleSkipped
	ModuleUptodate

	AllUpdating
	AllFailure
	AllSkipped
	AllDone

	ModuleLogMsg
	ModulePersistOpt
	ModulePostbuildMsg
)

func (t Type) String() string {
	switch t {
	case ModuleSuccess:
		return "MODULE_SUCCESS"
	case ModuleFailure:
		return "MODULE_FAILURE"
	case ModuleSkipped:
		return "MODULE_SKIPPED"
	case ModuleUptodate:
		return "MODULE_UPTODATE"
	case AllUpdating:
		return "ALL_UPDATING"
	case AllFailure:
		return "ALL_FAILURE"
	case AllSkipped:
		return "ALL_SKIPPED"
	case AllDone:
		return "ALL_DONE"
	case ModuleLogMsg:
		return "MODULE_LOGMSG"
	case ModulePersistOpt:
		return "MODULE_PERSIST_OPT"
	case ModulePostbuildMsg:
		return "MODULE_POSTBUILD_MSG"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// ModuleResult is the payload of a MODULE_* outcome message.
type ModuleResult struct {
	Project string `json:"project"`
	Reason  string `json:"reason,omitempty"` // non-empty refresh-reason for success/uptodate
	Commits int     `json:"commits,omitempty"`
}

// LogMsg is the payload of MODULE_LOGMSG: routed output for when the
// sending process doesn't own the controlling TTY (spec.md §4.6 "TTY
// ownership").
type LogMsg struct {
	Project string `json:"project"`
	Logger  string `json:"logger"`
	Level   string `json:"level"`
	Text    string `json:"text"`
}

// PersistOpt is the payload of MODULE_PERSIST_OPT: a deferred write to the
// persistent-state store, which only the build-parent may apply directly
// (spec.md §4.9).
type PersistOpt struct {
	Project string      `json:"project"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}

// PostbuildMsg is the payload of MODULE_POSTBUILD_MSG: a warning deferred
// to the end-of-run report (e.g. "stash pop conflicted", spec.md §4.8).
type PostbuildMsg struct {
	Project string `json:"project"`
	Text    string `json:"text"`
}

// Message is one framed IPC message.
type Message struct {
	Type    Type
	Payload []byte
}

// Encode writes t with the given JSON-encodable payload as one
// length-prefixed frame: a big-endian u32 type, a big-endian u32 length,
// then the raw payload bytes (spec.md §4.6 "Framing"). One whole message is
// written per call so partial writes are never observable to a reader.
func Encode(w io.Writer, t Type, payload interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(t))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(buf)))
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads one framed message from r. It returns io.EOF when the
// stream is cleanly closed between messages.
func Decode(r io.Reader) (Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	t := Type(binary.BigEndian.Uint32(header[0:4]))
	n := binary.BigEndian.Uint32(header[4:8])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: payload}, nil
}

// Decode unmarshals m's payload into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Queue is the in-process fallback transport used when concurrency is
// disabled or only a single phase is requested (spec.md §4.6: "IPC is a
// local queue of already-encoded messages").
type Queue struct {
	ch chan Message
}

// NewQueue creates a buffered in-process message queue.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Message, capacity)}
}

// Send enqueues t/payload, encoding payload the same way Encode would so
// callers observe identical semantics regardless of transport.
func (q *Queue) Send(t Type, payload interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.ch <- Message{Type: t, Payload: buf}
	return nil
}

// Recv blocks for the next message, or returns ok=false once Close has been
// called and the queue has drained.
func (q *Queue) Recv() (Message, bool) {
	m, ok := <-q.ch
	return m, ok
}

// Forward enqueues an already-framed message as-is, with no re-encoding.
// Used by a relay stage (the monitor, between the updater and the builder)
// that passes messages through rather than originating them.
func (q *Queue) Forward(m Message) {
	q.ch <- m
}

// Close signals that no further messages will be sent.
func (q *Queue) Close() { close(q.ch) }

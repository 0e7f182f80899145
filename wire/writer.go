package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"

	"github.com/c360/streamwire/errors"
	"github.com/c360/streamwire/serializer"
)

var crlf = []byte("\r\n")

// Writer serializes outbound commands to the transport. It validates before
// emitting any byte, so a failed command never leaves a partial frame on the
// wire. Writes are buffered; the caller flushes once per dequeue batch.
type Writer struct {
	bw *bufio.Writer

	// scratch avoids per-command allocations when formatting headers
	scratch []byte
}

// NewWriter creates a Writer over w with the given buffer size.
func NewWriter(w io.Writer, bufSize int) *Writer {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Writer{
		bw:      bufio.NewWriterSize(w, bufSize),
		scratch: make([]byte, 0, 128),
	}
}

// WritePublish encodes v with enc and emits a PUB frame. The payload is
// encoded and the subject validated before any byte is written.
// Returns the payload length for traffic accounting.
func (w *Writer) WritePublish(subject, reply string, v any, enc serializer.Serializer) (int, error) {
	if err := ValidateSubject(subject); err != nil {
		return 0, err
	}
	if reply != "" {
		if err := ValidateSubject(reply); err != nil {
			return 0, errors.WrapInvalid(errors.ErrBadReply, "Writer", "WritePublish", "validate reply")
		}
	}

	payload, err := enc.Encode(v)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Writer", "WritePublish", "encode payload")
	}

	return len(payload), w.writePub(subject, reply, payload)
}

// WritePublishBytes emits a PUB frame with a pre-encoded payload, bypassing
// the serializer. The batch path uses this for each grouped item.
func (w *Writer) WritePublishBytes(subject, reply string, payload []byte) (int, error) {
	if err := ValidateSubject(subject); err != nil {
		return 0, err
	}
	if reply != "" {
		if err := ValidateSubject(reply); err != nil {
			return 0, errors.WrapInvalid(errors.ErrBadReply, "Writer", "WritePublishBytes", "validate reply")
		}
	}
	return len(payload), w.writePub(subject, reply, payload)
}

func (w *Writer) writePub(subject, reply string, payload []byte) error {
	h := append(w.scratch[:0], "PUB "...)
	h = append(h, subject...)
	if reply != "" {
		h = append(h, ' ')
		h = append(h, reply...)
	}
	h = append(h, ' ')
	h = strconv.AppendInt(h, int64(len(payload)), 10)
	h = append(h, crlf...)

	if _, err := w.bw.Write(h); err != nil {
		return err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return err
	}
	_, err := w.bw.Write(crlf)
	return err
}

// WriteSubscribe emits a SUB frame. An empty queue subscribes normally;
// a non-empty queue joins the named queue group for server-side balancing.
func (w *Writer) WriteSubscribe(subject, queue string, sid uint64) error {
	if err := ValidatePattern(subject); err != nil {
		return err
	}
	if queue != "" {
		if err := ValidateSubject(queue); err != nil {
			return err
		}
	}

	h := append(w.scratch[:0], "SUB "...)
	h = append(h, subject...)
	if queue != "" {
		h = append(h, ' ')
		h = append(h, queue...)
	}
	h = append(h, ' ')
	h = strconv.AppendUint(h, sid, 10)
	h = append(h, crlf...)

	_, err := w.bw.Write(h)
	return err
}

// WriteUnsubscribe emits an UNSUB frame. A maxMsgs greater than zero asks
// the server to remove the subscription automatically after that many
// deliveries; zero unsubscribes immediately.
func (w *Writer) WriteUnsubscribe(sid uint64, maxMsgs int) error {
	h := append(w.scratch[:0], "UNSUB "...)
	h = strconv.AppendUint(h, sid, 10)
	if maxMsgs > 0 {
		h = append(h, ' ')
		h = strconv.AppendInt(h, int64(maxMsgs), 10)
	}
	h = append(h, crlf...)

	_, err := w.bw.Write(h)
	return err
}

// WritePing emits a PING frame.
func (w *Writer) WritePing() error {
	_, err := w.bw.WriteString("PING\r\n")
	return err
}

// WritePong emits a PONG frame.
func (w *Writer) WritePong() error {
	_, err := w.bw.WriteString("PONG\r\n")
	return err
}

// WriteConnect emits the CONNECT handshake command.
func (w *Writer) WriteConnect(opts ConnectOptions) error {
	body, err := json.Marshal(opts)
	if err != nil {
		return errors.WrapInvalid(err, "Writer", "WriteConnect", "encode options")
	}
	if _, err := w.bw.WriteString("CONNECT "); err != nil {
		return err
	}
	if _, err := w.bw.Write(body); err != nil {
		return err
	}
	_, err = w.bw.Write(crlf)
	return err
}

// Flush writes any buffered bytes to the transport.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Buffered returns the number of bytes waiting to be flushed.
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Reset discards buffered state and redirects output to a new stream,
// used when the connection is re-established.
func (w *Writer) Reset(dst io.Writer) {
	w.bw.Reset(dst)
}

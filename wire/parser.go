package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/c360/streamwire/errors"
)

// maxControlLine bounds a single control line. A line exceeding this without
// a CRLF is treated as a protocol violation and discarded up to the next CRLF.
const maxControlLine = 4096

type parseState int

const (
	stateLine parseState = iota
	statePayload
	stateResync
)

// Parser is an incremental frame parser. Feed may receive arbitrary byte
// slices, including partial frames split at any position; the parser carries
// state across calls and resumes mid-line or mid-payload. A malformed control
// line yields a protocol error for that frame only and the parser
// resynchronizes at the next CRLF.
type Parser struct {
	state parseState
	line  []byte

	// pending MSG frame while its payload accumulates
	msg     Frame
	need    int
	payload []byte
}

// NewParser creates a Parser ready to consume a server stream.
func NewParser() *Parser {
	return &Parser{
		line:    make([]byte, 0, 256),
		payload: make([]byte, 0, 512),
	}
}

// Feed consumes data and returns the complete frames it yielded. Protocol
// violations are reported per frame via errs, positionally unrelated to
// frames; parsing continues past them.
func (p *Parser) Feed(data []byte) (frames []Frame, errs []error) {
	for len(data) > 0 {
		switch p.state {
		case statePayload:
			data = p.feedPayload(data, &frames)

		case stateResync:
			idx := bytes.IndexByte(data, '\n')
			if idx < 0 {
				return frames, errs
			}
			data = data[idx+1:]
			p.line = p.line[:0]
			p.state = stateLine

		default:
			idx := bytes.IndexByte(data, '\n')
			if idx < 0 {
				p.line = append(p.line, data...)
				if len(p.line) > maxControlLine {
					errs = append(errs, errors.WrapInvalid(errors.ErrProtocol, "Parser", "Feed", "control line too long"))
					p.line = p.line[:0]
					p.state = stateResync
				}
				return frames, errs
			}
			p.line = append(p.line, data[:idx]...)
			data = data[idx+1:]

			line := bytes.TrimSuffix(p.line, []byte("\r"))
			if len(line) > 0 {
				if err := p.parseLine(line, &frames); err != nil {
					errs = append(errs, err)
				}
			}
			p.line = p.line[:0]
		}
	}
	return frames, errs
}

func (p *Parser) feedPayload(data []byte, frames *[]Frame) []byte {
	// need counts payload bytes plus the trailing CRLF
	n := p.need - len(p.payload)
	if n > len(data) {
		n = len(data)
	}
	p.payload = append(p.payload, data[:n]...)
	data = data[n:]

	if len(p.payload) < p.need {
		return data
	}

	f := p.msg
	f.Payload = make([]byte, p.need-2)
	copy(f.Payload, p.payload[:p.need-2])
	*frames = append(*frames, f)

	p.payload = p.payload[:0]
	p.msg = Frame{}
	p.state = stateLine
	return data
}

func (p *Parser) parseLine(line []byte, frames *[]Frame) error {
	verb := line
	var rest []byte
	if idx := bytes.IndexByte(line, ' '); idx >= 0 {
		verb = line[:idx]
		rest = line[idx+1:]
	}

	switch {
	case bytes.EqualFold(verb, []byte("MSG")):
		return p.parseMsg(rest)

	case bytes.EqualFold(verb, []byte("PING")):
		*frames = append(*frames, Frame{Kind: KindPing})

	case bytes.EqualFold(verb, []byte("PONG")):
		*frames = append(*frames, Frame{Kind: KindPong})

	case bytes.EqualFold(verb, []byte("+OK")):
		*frames = append(*frames, Frame{Kind: KindOK})

	case bytes.EqualFold(verb, []byte("-ERR")):
		msg := strings.Trim(string(rest), " '")
		*frames = append(*frames, Frame{Kind: KindErr, Message: msg})

	case bytes.EqualFold(verb, []byte("INFO")):
		var info ServerInfo
		if err := json.Unmarshal(rest, &info); err != nil {
			return errors.WrapInvalid(errors.ErrProtocol, "Parser", "parseLine", "decode INFO")
		}
		*frames = append(*frames, Frame{Kind: KindInfo, Info: &info})

	default:
		return errors.WrapInvalid(errors.ErrProtocol, "Parser", "parseLine", "unknown verb "+strconv.Quote(string(verb)))
	}
	return nil
}

// parseMsg handles "MSG <subject> <sid> [reply] <#bytes>" and switches the
// parser into payload mode.
func (p *Parser) parseMsg(args []byte) error {
	fields := bytes.Fields(args)
	if len(fields) != 3 && len(fields) != 4 {
		return errors.WrapInvalid(errors.ErrProtocol, "Parser", "parseMsg", "wrong field count")
	}

	f := Frame{Kind: KindMsg, Subject: string(fields[0])}

	sid, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return errors.WrapInvalid(errors.ErrProtocol, "Parser", "parseMsg", "bad sid")
	}
	f.Sid = sid

	sizeField := fields[2]
	if len(fields) == 4 {
		f.Reply = string(fields[2])
		sizeField = fields[3]
	}

	size, err := strconv.Atoi(string(sizeField))
	if err != nil || size < 0 {
		return errors.WrapInvalid(errors.ErrProtocol, "Parser", "parseMsg", "bad payload size")
	}

	p.msg = f
	p.need = size + 2
	p.payload = p.payload[:0]
	p.state = statePayload
	return nil
}

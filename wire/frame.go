// Package wire implements the line-delimited wire grammar: serialization of
// outbound protocol commands and incremental parsing of inbound frames.
//
// The protocol is a hybrid of CRLF-terminated text verbs and binary-safe
// payload sections. Client to server: PUB, SUB, UNSUB, PING, PONG, CONNECT.
// Server to client: MSG, PING, PONG, +OK, -ERR, INFO.
package wire

import "fmt"

// Kind identifies the frame variant produced by the parser.
type Kind int

const (
	// KindMsg is a message frame carrying a payload for a subscription.
	KindMsg Kind = iota
	// KindInfo is the server information frame sent on connect.
	KindInfo
	// KindPing is a keepalive probe that must be answered with PONG.
	KindPing
	// KindPong acknowledges a PING.
	KindPong
	// KindOK acknowledges a command in verbose mode.
	KindOK
	// KindErr is a server-reported error.
	KindErr
)

// String returns the protocol verb for the frame kind.
func (k Kind) String() string {
	switch k {
	case KindMsg:
		return "MSG"
	case KindInfo:
		return "INFO"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindOK:
		return "+OK"
	case KindErr:
		return "-ERR"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Frame is one parsed unit of the inbound protocol stream.
// Which fields are set depends on Kind.
type Frame struct {
	Kind Kind

	// Message frame fields
	Subject string
	Sid     uint64
	Reply   string
	Payload []byte

	// Error text for KindErr
	Message string
	// Decoded server information for KindInfo
	Info *ServerInfo
}

// ServerInfo is the decoded body of an INFO frame.
type ServerInfo struct {
	ServerID     string `json:"server_id"`
	Version      string `json:"version"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxPayload   int64  `json:"max_payload"`
	AuthRequired bool   `json:"auth_required"`
	TLSRequired  bool   `json:"tls_required"`
}

// ConnectOptions is the body of the CONNECT command sent in response to INFO.
type ConnectOptions struct {
	Verbose  bool   `json:"verbose"`
	Pedantic bool   `json:"pedantic"`
	Name     string `json:"name"`
	Lang     string `json:"lang"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
}

package core

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrHandshake       = errors.New("handshake failed")
	ErrDisconnected    = errors.New("connection lost")
	ErrClosed          = errors.New("channel closed")
	ErrAlreadyStarted  = errors.New("already started")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrServer          = errors.New("server error")
	ErrNoSession       = errors.New("no session started")
	ErrNotJoined       = errors.New("room not joined")
	ErrMalformedSDP    = errors.New("malformed sdp")
	ErrRoomIDRequired  = errors.New("room id must be set")
)

// TransportError covers connect timeout, handshake failure and mid-session disconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected reply, or a server-reported error.
type ProtocolError struct {
	Code   int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("code: %d, reason: %s", e.Code, e.Reason)
	}
	if e.Reason != "" {
		return e.Reason
	}
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }

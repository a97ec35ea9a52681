package janus

import (
	"errors"
	"fmt"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/pion/sdp/v3"
)

type State int

const (
	StateIdle State = iota
	StateConnected
	StateSessionCreated
	StatePluginAttached
	StateRoomJoined
	StatePublishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateSessionCreated:
		return "session-created"
	case StatePluginAttached:
		return "plugin-attached"
	case StateRoomJoined:
		return "room-joined"
	case StatePublishing:
		return "publishing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is the side effect the client performs after a decision.
type Action int

const (
	ActionNone Action = iota
	ActionAttach
	ActionJoin
	ActionSessionRequested
	ActionRemoteAnswer
	ActionRemoteOffer
	ActionRemoteCandidate
	ActionFail
)

// Decision is the outcome of feeding one reply to the state machine.
type Decision struct {
	Next   State
	Action Action
	// ID is the new session id for ActionAttach and the handle id for ActionJoin.
	// SDP holds the candidate line for ActionRemoteCandidate.
	ID    uint64
	SDP   string
	MLine uint16
	Err   error
}

func stay(s State) Decision { return Decision{Next: s} }

func fail(err error) Decision { return Decision{Next: StateClosed, Action: ActionFail, Err: err} }

// Decide maps (state, reply) to the next state and action. It is pure: the
// client applies the result under its own lock.
func Decide(s State, r *Reply) Decision {
	if s == StateClosed {
		return stay(s)
	}
	switch r.Kind {
	case ReplySuccess:
		return decideSuccess(s, r)
	case ReplyEvent:
		return decideEvent(s, r)
	case ReplyError:
		if r.Error == nil {
			return fail(&core.ProtocolError{Err: fmt.Errorf("%w: error reply without payload", core.ErrUnexpectedReply)})
		}
		return fail(&core.ProtocolError{Code: r.Error.Code, Reason: r.Error.Reason, Err: core.ErrServer})
	case ReplyHangUp:
		return fail(&core.ProtocolError{Reason: "hangup: " + r.Reason, Err: core.ErrServer})
	case ReplyTrickle:
		if r.Candidate == nil || r.Candidate.Completed || r.Candidate.Candidate == "" {
			return stay(s)
		}
		return Decision{Next: s, Action: ActionRemoteCandidate, SDP: r.Candidate.Candidate, MLine: r.Candidate.SDPMLineIndex}
	default:
		// ack, webrtcup, media and anything newer than this client
		return stay(s)
	}
}

// decideSuccess dispatches on the presence of session_id: absent means the
// session was created, present means the plugin handle was attached.
func decideSuccess(s State, r *Reply) Decision {
	if r.Data == nil {
		return stay(s)
	}
	if r.SessionID == nil {
		if s != StateConnected {
			return fail(unexpected("session created", s))
		}
		return Decision{Next: StateSessionCreated, Action: ActionAttach, ID: r.Data.ID}
	}
	if s != StateSessionCreated {
		return fail(unexpected("plugin attached", s))
	}
	return Decision{Next: StatePluginAttached, Action: ActionJoin, ID: r.Data.ID}
}

func decideEvent(s State, r *Reply) Decision {
	vr := r.videoRoom()
	if vr == nil {
		return stay(s)
	}
	switch vr.VideoRoom {
	case "joined":
		if s != StatePluginAttached {
			return stay(s)
		}
		return Decision{Next: StateRoomJoined, Action: ActionSessionRequested}
	case "event":
		if vr.ErrorCode != nil && vr.Error != nil {
			return fail(&core.ProtocolError{Code: *vr.ErrorCode, Reason: *vr.Error, Err: core.ErrServer})
		}
		if r.Jsep == nil {
			return stay(s)
		}
		return decideJsep(s, r.Jsep)
	case "destroyed":
		room := ""
		if vr.Room != nil {
			room = vr.Room.String()
		}
		return fail(&core.ProtocolError{Reason: fmt.Sprintf("room %s has been destroyed", room), Err: core.ErrServer})
	default:
		return stay(s)
	}
}

func decideJsep(s State, j *Jsep) Decision {
	var action Action
	switch j.Type {
	case "answer":
		action = ActionRemoteAnswer
	case "offer":
		action = ActionRemoteOffer
	default:
		return stay(s)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(j.SDP)); err != nil {
		return fail(&core.NegotiationError{
			Op:  "could not parse " + j.Type + " SDP",
			Err: errors.Join(core.ErrMalformedSDP, err),
		})
	}
	return Decision{Next: s, Action: action, SDP: j.SDP}
}

func unexpected(what string, s State) error {
	return &core.ProtocolError{Err: fmt.Errorf("%w: %s while %s", core.ErrUnexpectedReply, what, s)}
}

// CanPublish reports whether a local offer may be sent in state s.
func CanPublish(s State) bool { return s == StateRoomJoined || s == StatePublishing }

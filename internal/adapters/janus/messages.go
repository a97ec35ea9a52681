package janus

import "encoding/json"

const videoRoomPlugin = "janus.plugin.videoroom"

// Outgoing requests. One value is one text frame.

type keepAliveMsg struct {
	Janus       string  `json:"janus"`
	Transaction string  `json:"transaction"`
	SessionID   uint64  `json:"session_id"`
	APISecret   *string `json:"apisecret,omitempty"`
}

type createSessionMsg struct {
	Janus       string  `json:"janus"`
	Transaction string  `json:"transaction"`
	APISecret   *string `json:"apisecret,omitempty"`
}

type attachPluginMsg struct {
	Janus       string  `json:"janus"`
	Transaction string  `json:"transaction"`
	Plugin      string  `json:"plugin"`
	SessionID   uint64  `json:"session_id"`
	APISecret   *string `json:"apisecret,omitempty"`
}

type roomRequestBody struct {
	Request string  `json:"request"`
	PType   string  `json:"ptype"`
	Room    ID      `json:"room"`
	ID      ID      `json:"id"`
	Display *string `json:"display,omitempty"`
}

type handleMsg struct {
	Janus       string  `json:"janus"`
	Transaction string  `json:"transaction"`
	SessionID   uint64  `json:"session_id"`
	HandleID    uint64  `json:"handle_id"`
	APISecret   *string `json:"apisecret,omitempty"`
}

type roomRequestMsg struct {
	handleMsg
	Body roomRequestBody `json:"body"`
}

type requestBody struct {
	Request string `json:"request"`
}

type Jsep struct {
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
	Type    string `json:"type"`
}

type jsepMsg struct {
	handleMsg
	Body requestBody `json:"body"`
	Jsep Jsep        `json:"jsep"`
}

type candidate struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

type remoteCandidate struct {
	Candidate     string `json:"candidate,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
}

type trickleMsg struct {
	handleMsg
	Candidate candidate `json:"candidate"`
}

// requestContext is the per-request snapshot taken under the client lock.
type requestContext struct {
	transaction string
	sessionID   uint64
	handleID    uint64
	apiSecret   *string
}

func (r requestContext) handle(janus string) handleMsg {
	return handleMsg{
		Janus:       janus,
		Transaction: r.transaction,
		SessionID:   r.sessionID,
		HandleID:    r.handleID,
		APISecret:   r.apiSecret,
	}
}

func encodeCreateSession(r requestContext) ([]byte, error) {
	return json.Marshal(createSessionMsg{Janus: "create", Transaction: r.transaction, APISecret: r.apiSecret})
}

func encodeAttach(r requestContext) ([]byte, error) {
	return json.Marshal(attachPluginMsg{
		Janus:       "attach",
		Transaction: r.transaction,
		Plugin:      videoRoomPlugin,
		SessionID:   r.sessionID,
		APISecret:   r.apiSecret,
	})
}

func encodeKeepAlive(r requestContext) ([]byte, error) {
	return json.Marshal(keepAliveMsg{Janus: "keepalive", Transaction: r.transaction, SessionID: r.sessionID, APISecret: r.apiSecret})
}

func encodeRoomRequest(r requestContext, request string, ids RoomIdentity, display *string) ([]byte, error) {
	return json.Marshal(roomRequestMsg{
		handleMsg: r.handle("message"),
		Body: roomRequestBody{
			Request: request,
			PType:   "publisher",
			Room:    ids.Room,
			ID:      ids.Feed,
			Display: display,
		},
	})
}

// encodeJsep builds "publish" for a local offer and "start" for a local
// answer to a server-provided offer.
func encodeJsep(r requestContext, request, sdpType, sdp string) ([]byte, error) {
	trickle := true
	return json.Marshal(jsepMsg{
		handleMsg: r.handle("message"),
		Body:      requestBody{Request: request},
		Jsep:      Jsep{SDP: sdp, Trickle: &trickle, Type: sdpType},
	})
}

func encodeTrickle(r requestContext, cand string, mline uint16) ([]byte, error) {
	return json.Marshal(trickleMsg{
		handleMsg: r.handle("trickle"),
		Candidate: candidate{Candidate: cand, SDPMLineIndex: mline},
	})
}

// Incoming replies.

type ReplyKind string

const (
	ReplyAck      ReplyKind = "ack"
	ReplySuccess  ReplyKind = "success"
	ReplyEvent    ReplyKind = "event"
	ReplyWebRTCUp ReplyKind = "webrtcup"
	ReplyMedia    ReplyKind = "media"
	ReplyError    ReplyKind = "error"
	ReplyHangUp   ReplyKind = "hangup"
	ReplyTrickle  ReplyKind = "trickle"
)

type dataHolder struct {
	ID uint64 `json:"id"`
}

type innerError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type VideoRoomData struct {
	VideoRoom string  `json:"videoroom"`
	Room      *ID     `json:"room,omitempty"`
	ErrorCode *int    `json:"error_code,omitempty"`
	Error     *string `json:"error,omitempty"`
}

type pluginData struct {
	Plugin string        `json:"plugin"`
	Data   VideoRoomData `json:"data"`
}

// Reply is the decoded union of every server message this client handles.
// Fields irrelevant to Kind are zero.
type Reply struct {
	Kind        ReplyKind   `json:"janus"`
	Transaction *string     `json:"transaction,omitempty"`
	SessionID   *uint64     `json:"session_id,omitempty"`
	Data        *dataHolder `json:"data,omitempty"`
	PluginData  *pluginData `json:"plugindata,omitempty"`
	Jsep        *Jsep       `json:"jsep,omitempty"`
	Error       *innerError `json:"error,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	// Candidate is set on server-side trickle.
	Candidate *remoteCandidate `json:"candidate,omitempty"`
}

// DecodeReply parses one inbound frame.
func DecodeReply(frame []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// videoRoom returns the videoroom payload of an event, if any.
func (r *Reply) videoRoom() *VideoRoomData {
	if r.PluginData == nil || r.PluginData.Plugin != videoRoomPlugin {
		return nil
	}
	return &r.PluginData.Data
}

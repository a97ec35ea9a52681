package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/adapters/janus"
	"github.com/dkeye/rtcsignal/internal/app/negotiation"
	"github.com/dkeye/rtcsignal/internal/app/pipeline"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	events   []map[string]any
	sent     bool
	navErr   error
	keyframe map[string]error
}

func (f *fakeEngine) Status() negotiation.Status {
	return negotiation.Status{
		Running:   true,
		SessionID: "99",
		Streams:   []domain.StreamInfo{{StreamID: "abc:0", Channel: "video_0", Kind: domain.MediaKindVideo}},
	}
}

func (f *fakeEngine) SendNavigationEvent(event map[string]any) (bool, error) {
	f.events = append(f.events, event)
	return f.sent, f.navErr
}

func (f *fakeEngine) RequestKeyFrame(id string) error {
	if err, ok := f.keyframe[id]; ok {
		return err
	}
	return fmt.Errorf("%w %s", negotiation.ErrUnknownStream, id)
}

type fakeSignaller struct{}

func (fakeSignaller) Status() janus.Status {
	return janus.Status{State: "RoomJoined", SessionID: 1, HandleID: 2, Room: "1234", Feed: "5"}
}

type fakeChannels struct {
	muted map[string]bool
}

func (f *fakeChannels) Channels() []pipeline.ChannelInfo {
	return []pipeline.ChannelInfo{{Name: "video_0", StreamID: "abc:0", Kind: domain.MediaKindVideo, Packets: 7}}
}

func (f *fakeChannels) MuteChannel(name string, muted bool) error {
	switch name {
	case "video_0":
		f.muted[name] = muted
		return nil
	case "audio_0":
		return fmt.Errorf("%s: %w", name, pipeline.ErrNotBound)
	}
	return fmt.Errorf("%w %s", pipeline.ErrUnknownChannel, name)
}

func setup(e *fakeEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(Deps{Mode: "test", Engine: e, Signaller: fakeSignaller{}, Channels: &fakeChannels{muted: map[string]bool{}}})
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(setup(&fakeEngine{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStatus(t *testing.T) {
	w := do(setup(&fakeEngine{}), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Signaller map[string]any `json:"signaller"`
		Engine    map[string]any `json:"engine"`
		Channels  []map[string]any
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "RoomJoined", got.Signaller["state"])
	assert.Equal(t, "1234", got.Signaller["room"])
	assert.Equal(t, true, got.Engine["running"])
	assert.Equal(t, "99", got.Engine["session_id"])
	require.Len(t, got.Channels, 1)
	assert.Equal(t, "video_0", got.Channels[0]["name"])
}

func TestNavigation(t *testing.T) {
	e := &fakeEngine{sent: true}
	r := setup(e)

	w := do(r, http.MethodPost, "/api/navigation", `{"event":"mouse-move","x":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sent":true}`, w.Body.String())
	require.Len(t, e.events, 1)
	assert.Equal(t, "mouse-move", e.events[0]["event"])

	w = do(r, http.MethodPost, "/api/navigation", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.navErr = errors.New("boom")
	w = do(r, http.MethodPost, "/api/navigation", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestKeyFrame(t *testing.T) {
	e := &fakeEngine{keyframe: map[string]error{
		"abc:0": nil,
		"abc:1": errors.New("stream abc:1 has no track yet"),
	}}
	r := setup(e)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/streams/abc:0/keyframe", "").Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/streams/abc:1/keyframe", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/streams/nope/keyframe", "").Code)
}

func TestKeyFrame_Throttled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(Deps{
		Mode:            "test",
		Engine:          &fakeEngine{keyframe: map[string]error{"abc:0": nil}},
		Signaller:       fakeSignaller{},
		KeyFrameLimiter: NewRateLimiter(1, time.Minute),
	})

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/streams/abc:0/keyframe", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/streams/abc:0/keyframe", "").Code)
}

func TestMuteChannel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ch := &fakeChannels{muted: map[string]bool{}}
	r := SetupRouter(Deps{Mode: "test", Engine: &fakeEngine{}, Signaller: fakeSignaller{}, Channels: ch})

	w := do(r, http.MethodPost, "/api/channels/video_0/mute", `{"muted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ch.muted["video_0"])

	w = do(r, http.MethodPost, "/api/channels/video_0/mute", `{"muted":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ch.muted["video_0"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/channels/video_0/mute", `{}`).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/channels/audio_0/mute", `{"muted":true}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/channels/nope/mute", `{"muted":true}`).Code)
}

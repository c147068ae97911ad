package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// RealtimeHandler bridges websocket connections onto the session manager.
// One reader loop per connection feeds chunks in arrival order; one writer
// loop drains the session's emissions back to the client.
type RealtimeHandler struct {
	sessions *service.SessionManager
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(sessions *service.SessionManager) *RealtimeHandler {
	return &RealtimeHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Browser clients connect from a separate origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// clientMessage is what the duplex channel accepts from the client.
type clientMessage struct {
	Type     string `json:"type"` // audio_chunk, start_transcription, transcribe_audio
	Audio    string `json:"audio,omitempty"`
	Sequence int64  `json:"sequence_no,omitempty"`
}

// Serve upgrades the connection and runs the duplex session until the
// client disconnects, the session idles out, or it is closed server-side.
func (h *RealtimeHandler) Serve(c *gin.Context) {
	mode := model.SessionMode(c.DefaultQuery("mode", string(model.ModeNoiseReduction)))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	session, err := h.sessions.Open(mode)
	if err != nil {
		conn.WriteJSON(service.Event{Type: service.EventError, Error: err.Error()})
		conn.Close()
		return
	}

	ctx := c.Request.Context()
	conn.WriteJSON(gin.H{
		"type":       "session_opened",
		"session_id": session.ID(),
		"mode":       session.Mode(),
	})

	// Writer: drain emissions until the session closes its event stream.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for ev := range session.Events() {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	// Reader: feed the session until the connection drops.
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		h.handleMessage(session, msg)
	}

	h.sessions.Close(session.ID())
	<-writeDone
	conn.Close()
	logger.Debug(ctx, "realtime connection finished", "session_id", session.ID())
}

func (h *RealtimeHandler) handleMessage(session *service.Session, msg clientMessage) {
	switch msg.Type {
	case "audio_chunk":
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return
		}
		// Out-of-order rejections are already emitted to the client as
		// events by the session manager.
		_ = h.sessions.Push(session.ID(), audio, msg.Sequence)
	case "start_transcription":
		// Mode is fixed at open; this is a client-side readiness signal.
	case "transcribe_audio":
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return
		}
		h.sessions.TranscribeOnce(session.ID(), audio)
	}
}

package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/log"
	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/store"
)

// DefaultMaxFrameBytes bounds one inbound frame message.
const DefaultMaxFrameBytes = 4 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open for every route
	},
}

// errUndecodable marks bytes that are not an image OpenCV can read.
var errUndecodable = errors.New("undecodable image")

// CoachHandler runs one coaching session per WebSocket connection. Clients
// send base64 JPEG text frames, optionally as a data URL, or raw image bytes
// as binary frames, and receive one JSON result per frame.
type CoachHandler struct {
	factory       *session.Factory
	live          *Hub
	maxFrameBytes int64
	logger        *slog.Logger
}

// NewCoachHandler creates a CoachHandler. live may be nil.
func NewCoachHandler(f *session.Factory, live *Hub, maxFrameBytes int64) *CoachHandler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &CoachHandler{
		factory:       f,
		live:          live,
		maxFrameBytes: maxFrameBytes,
		logger:        log.With("component", "server.coach"),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *CoachHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxFrameBytes)

	sess := h.factory.NewSession(r.Context(), store.SourceWebSocket)
	defer sess.Close()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "session_id", sess.ID(), "error", err)
			}
			return
		}

		frame := h.process(sess, mt, data)
		if h.live != nil {
			h.live.Publish(frame)
		}

		if err := conn.WriteJSON(frame.Result); err != nil {
			h.logger.Warn("websocket write failed", "session_id", sess.ID(), "error", err)
			return
		}
	}
}

func (h *CoachHandler) process(sess *session.Session, messageType int, data []byte) session.Frame {
	img, err := decodeFrame(messageType, data)
	if err != nil {
		if errors.Is(err, errUndecodable) {
			return sess.Invalid("")
		}
		return sess.Invalid(fmt.Sprintf("Failed to decode image: %v", err))
	}
	defer img.Close()

	return sess.Step(&img)
}

// decodeFrame turns one client message into a BGR image. Text messages hold
// base64, optionally behind a "data:...," prefix; binary messages hold the
// encoded image itself.
func decodeFrame(messageType int, data []byte) (gocv.Mat, error) {
	raw := data
	if messageType == websocket.TextMessage {
		text := strings.TrimSpace(string(data))
		if strings.HasPrefix(text, "data:") {
			if _, payload, ok := strings.Cut(text, ","); ok {
				text = payload
			}
		}
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return gocv.Mat{}, err
		}
		raw = decoded
	}

	if len(raw) == 0 {
		return gocv.Mat{}, errUndecodable
	}

	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, errUndecodable
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, errUndecodable
	}
	return img, nil
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WebSocket message types.
const (
	WSTypeDetect    = "detect"
	WSTypeDetectURL = "detect_url"
	WSTypeResult    = "result"
	WSTypeError     = "error"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDetectRequest is one detection request sent by a client.
type WebSocketDetectRequest struct {
	Type         string `json:"type"` // "detect" or "detect_url"
	RequestID    string `json:"request_id,omitempty"`
	Image        string `json:"image,omitempty"` // base64, data URLs accepted
	URL          string `json:"url,omitempty"`
	IncludeImage bool   `json:"include_image,omitempty"`
	Annotate     bool   `json:"annotate,omitempty"`
}

// WebSocketResponse is sent back for every request.
type WebSocketResponse struct {
	Type      string           `json:"type"` // "result" or "error"
	RequestID string           `json:"request_id,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// detectWebSocketHandler handles WebSocket connections for streaming detection.
func (s *Server) detectWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", getClientIP(r))
	s.handleWebSocketConnection(r, conn)
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(r *http.Request, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType != websocket.TextMessage {
			s.sendWebSocketError(conn, "", apperrors.NewValidationError("only text messages are supported", nil))
			continue
		}
		s.handleWebSocketMessage(r, conn, data)
	}
}

// handleWebSocketMessage runs one request. Writes happen only from the read
// loop goroutine, so responses keep request order.
func (s *Server) handleWebSocketMessage(r *http.Request, conn WebSocketConnWriter, data []byte) {
	var req WebSocketDetectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", apperrors.NewValidationError("invalid JSON message", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.CheckRateLimit(getClientIP(r)); err != nil {
			rateLimitHits.Inc()
			s.sendWebSocketResponse(conn, WebSocketResponse{
				Type:      WSTypeError,
				RequestID: req.RequestID,
				Error:     err.Error(),
				ErrorType: "rate_limit_exceeded",
			})
			return
		}
	}

	opts := detectOptions{
		includeImage: req.IncludeImage,
		annotate:     req.Annotate,
		source:       "websocket",
	}

	var payload []byte
	var err error
	switch req.Type {
	case WSTypeDetect, "":
		if strings.TrimSpace(req.Image) == "" {
			err = apperrors.NewValidationError("no image data provided", nil)
			break
		}
		payload, err = ingest.DecodeBase64(req.Image, s.maxUploadBytes)
	case WSTypeDetectURL:
		if strings.TrimSpace(req.URL) == "" {
			err = apperrors.NewValidationError("no URL provided", nil)
			break
		}
		opts.sourceURL = req.URL
		payload, err = s.fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			fetchTotal.WithLabelValues(string(apperrors.GetType(err))).Inc()
		} else {
			fetchTotal.WithLabelValues("success").Inc()
		}
	default:
		err = apperrors.NewValidationError("unsupported message type: "+req.Type, nil)
	}
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, err)
		return
	}

	res, err := s.process(r.Context(), payload, opts)
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, err)
		return
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      WSTypeResult,
		RequestID: req.RequestID,
		Result:    res,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends a classified error for requestID.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID string, err error) {
	msg := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		msg = appErr.Message
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      WSTypeError,
		RequestID: requestID,
		Error:     msg,
		ErrorType: string(apperrors.GetType(err)),
	})
}

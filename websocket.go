package main

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mri-vision/tumor-detection-service/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
)

// wsFrame is the text-frame form of a request; binary frames carry the image as is.
type wsFrame struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

func (s *AppState) upgrader() *websocket.Upgrader {
	origins := s.Config.Server.CORSOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || strings.TrimRight(o, "/") == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleWebSocket answers every image frame with one prediction or error message.
func (s *AppState) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.Log)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err.Error()).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.Config.Server.MaxImageSize*2 + 1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	log.Info("WebSocket client connected")

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("error", err.Error()).Warn("WebSocket closed unexpectedly")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var reply interface{}
		data, ext, reqErr := decodeFrame(messageType, payload)
		switch {
		case reqErr != nil:
			reply = ErrorResponse{Status: statusError, Code: reqErr.code, Message: reqErr.message}
		case ext != "" && !s.Preprocessor.Accepts(ext):
			reply = ErrorResponse{Status: statusError, Code: "invalid_file_type", Message: "Invalid file type"}
		default:
			response, err := s.predict(r.Context(), data, ext)
			if err != nil {
				_, reply = s.errorResponseFor(r.Context(), r.URL.Path, err)
			} else {
				reply = response
			}
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			log.WithField("error", err.Error()).Warn("WebSocket write failed")
			return
		}
	}
}

func (s *AppState) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
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
}

func decodeFrame(messageType int, payload []byte) ([]byte, string, *requestError) {
	if messageType == websocket.BinaryMessage {
		if len(payload) == 0 {
			return nil, "", errNoImage
		}
		return payload, "", nil
	}

	var frame wsFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Image == "" {
		return nil, "", errNoImage
	}

	encoded := frame.Image
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", &requestError{http.StatusBadRequest, "invalid_request", "Field 'image' is not valid base64"}
	}

	return data, extensionOf(frame.Filename), nil
}

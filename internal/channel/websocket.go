package channel

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

// Server carries method calls over WebSocket. Each text frame is one Call; the
// Reply is written back on the same connection before the next frame is read.
type Server struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func NewServer(dispatcher *Dispatcher, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  8192,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With(zap.String("conn", connID))
	logger.Info("channel connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go s.keepAlive(conn, done)
	s.serve(conn, logger)
	close(done)

	conn.Close()
	logger.Info("channel disconnected")
}

func (s *Server) serve(conn *websocket.Conn, logger *zap.Logger) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("channel read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply Reply
		call, err := Decode(data)
		if err != nil {
			reply = errorReply(CodeInvalidCall, err.Error(), nil)
		} else {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			reply = s.dispatcher.Handle(call)
			logger.Debug("channel call",
				zap.String("id", call.ID),
				zap.String("method", call.Method),
				zap.Bool("failed", reply.Failed()),
				zap.Bool("not_implemented", reply.NotImplemented))
		}

		if err := s.write(conn, reply); err != nil {
			logger.Warn("channel write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, reply Reply) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(reply)
}

// keepAlive pings the peer until done is closed. gorilla allows WriteControl
// concurrently with the other write methods.
func (s *Server) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

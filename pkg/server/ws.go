package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/clientid"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteWait    = 5 * time.Second

	// Close codes 4000-4999 are application defined; ours add the HTTP status.
	wsCloseBase = 4000
	// A close frame payload is 125 bytes, two of which hold the code.
	wsMaxCloseReason = 123
)

type wsFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// handleAssistantWS answers JSON queries over one connection. Each answer is
// a run of chunk frames followed by a done frame. Failures close the socket
// with 4000+status, or 1011 when the upstream breaks mid-answer.
func (s *Server) handleAssistantWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := clientid.Identify(r.Header)
	logger := log.With("conn_id", uuid.NewString(), "client", client)
	logger.Debug("assistant websocket opened")

	conn.SetReadLimit(s.limits.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queries := make(chan []byte)
	go func() {
		defer cancel()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			select {
			case queries <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("assistant websocket closed")
			return
		case payload := <-queries:
			code, reason := s.answerWS(ctx, conn, client, payload, logger)
			if code != 0 {
				closeWS(conn, code, reason)
				return
			}
		}
	}
}

// answerWS streams one answer. A non-zero code means the socket must close.
func (s *Server) answerWS(ctx context.Context, conn *websocket.Conn, client string, payload []byte, logger *log.Logger) (int, string) {
	d := s.limiter.Check(client)
	if !d.Allowed {
		logger.Info("assistant websocket rate limited", "retry_after", d.RetryAfter.Round(time.Second))
		return wsErrorClose(assistant.RateLimited(d.RetryAfter))
	}
	if int64(len(payload)) > s.limits.MaxBodyBytes {
		return wsErrorClose(s.limits.CheckContentLength(int64(len(payload))))
	}
	q, err := assistant.ParseQuery(payload, s.limits)
	if err != nil {
		logger.Info("assistant websocket query rejected", "reason", err)
		return wsErrorClose(err)
	}
	stream, err := s.openStream(ctx, q)
	if err != nil {
		logger.Warn("assistant websocket query failed", "project", q.ProjectID, "err", err)
		return wsErrorClose(err)
	}
	defer stream.Close()

	n, err := relay(stream, func(text string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(wsFrame{Type: "chunk", Text: text})
	})
	switch {
	case err == nil:
	case errors.Is(err, errSink), ctx.Err() != nil:
		return websocket.CloseGoingAway, "connection closed"
	case n == 0:
		logger.Warn("assistant websocket stream failed before first chunk", "project", q.ProjectID, "err", err)
		return wsErrorClose(err)
	default:
		logger.Error("assistant websocket stream aborted", "project", q.ProjectID, "chunks", n, "err", err)
		return websocket.CloseInternalServerErr, "upstream stream failed"
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsFrame{Type: "done"}); err != nil {
		return websocket.CloseGoingAway, "connection closed"
	}
	logger.Info("assistant websocket answer streamed", "project", q.ProjectID, "chunks", n)
	return 0, ""
}

func wsErrorClose(err error) (int, string) {
	ae := assistant.Classify(err)
	return wsCloseBase + ae.Status(), ae.Message
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, truncateUTF8(reason, wsMaxCloseReason))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// checkOrigin admits non-browser clients, same-host pages and the configured
// CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

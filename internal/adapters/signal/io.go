package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Stage/internal/domain"
)

const writeWait = 5 * time.Second

func (s *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.gw.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	ws := s.conn.conn
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("writePump ctx done")
			return
		case data, ok := <-s.conn.send:
			if !ok {
				s.log.Debug().Msg("writePump channel closed")
				_ = ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (s *session) readPump(ctx context.Context, cancel context.CancelFunc) {
	hub := s.gw.Hub
	defer func() {
		s.log.Info().Msg("readPump closing")
		cancel()
		hub.Disconnect(context.Background(), s.sid)
		hub.Registry.Unbind(s.sid)
		s.conn.Close()
	}()

	ws := s.conn.conn
	pongWait := s.gw.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Error().Err(err).Msg("readPump read error")
				}
				return
			}
			s.handleFrame(ctx, data)
		}
	}
}

func (s *session) handleFrame(ctx context.Context, data []byte) {
	var f domain.ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Error().Err(err).Msg("bad json")
		s.sendError("bad_payload", "")
		return
	}

	switch f.Type {
	case domain.FrameJoin:
		s.handleJoin(ctx, f)
	case domain.FrameLeave:
		s.handleLeave(ctx, f)
	case domain.FrameControl:
		s.handleControl(ctx, f)
	case domain.FramePing:
		s.handlePing()
	case domain.FrameWhoAmI:
		s.handleWhoAmI()
	default:
		s.log.Warn().Str("type", f.Type).Msg("unknown frame")
		s.sendError("unknown_type", "")
	}
}

func (s *session) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	_ = s.conn.TrySend(b)
}

type errorFrame struct {
	Type  string          `json:"type"`
	Error string          `json:"error"`
	Room  domain.RoomName `json:"room,omitempty"`
}

func (s *session) sendError(code string, room domain.RoomName) {
	s.sendJSON(errorFrame{Type: "error", Error: code, Room: room})
}

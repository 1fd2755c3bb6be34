package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

// handleViewWS streams playback state to the client and accepts playback
// controls. State pushes are coalesced: a slow client skips intermediate
// versions but always receives the latest one.
func (s *Server) handleViewWS(w http.ResponseWriter, r *http.Request) {
	v, _, c, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.viewEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changed := make(chan struct{}, 1)
	signal := func(playback.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unsubscribe := c.OnChange(signal)
	defer unsubscribe()
	signal(playback.State{})

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		var sent uint64
		write := func(msg any, t protocol.MessageType) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return false
			}
			s.wsMessage("outbound", t)
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				st := c.Snapshot()
				if sent != 0 && st.Version == sent {
					continue
				}
				if !write(protocol.NewPlaybackState(v.ID, st), protocol.TypePlaybackState) {
					return
				}
				sent = st.Version
			case msg := <-outbound:
				if !write(msg, messageTypeOf(msg)) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	queue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.wsMessage("dropped", messageTypeOf(msg))
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_ = s.views.Touch(v.ID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				ViewID: v.ID,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		s.wsMessage("inbound", messageTypeOf(parsed))

		switch msg := parsed.(type) {
		case protocol.ClientPing:
			queue(protocol.Pong{Type: protocol.TypePong, TSMs: msg.TSMs})
		case protocol.ClientControl:
			if msg.ViewID != v.ID {
				queue(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					ViewID: v.ID,
					Code:   "view_mismatch",
					Source: "gateway",
					Detail: "control addressed to another view",
				})
				continue
			}
			s.applyControl(ctx, c, msg, queue)
		}
	}

	cancel()
	<-writerDone
	s.viewEvent("ws_disconnected")
}

// applyControl runs a client control against the coordinator. Play blocks on
// synthesis, so it runs off the read loop.
func (s *Server) applyControl(ctx context.Context, c *playback.Coordinator, msg protocol.ClientControl, queue func(any)) {
	report := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		// Synthesis failures already surface as a notice in the pushed state.
		if !errors.Is(err, playback.ErrUnknownLine) && !errors.Is(err, playback.ErrNotPlayable) {
			return
		}
		queue(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			ViewID: msg.ViewID,
			Code:   "invalid_line",
			Source: "playback",
			Detail: err.Error(),
		})
	}

	switch msg.Action {
	case protocol.ActionPlay:
		idx := *msg.LineIndex
		go func() {
			err := c.Play(ctx, idx)
			if err != nil && !errors.Is(err, context.Canceled) {
				observability.Logger(ctx).DebugContext(ctx, "play failed", "line_index", idx, "error", err)
			}
			report(err)
		}()
	case protocol.ActionStarted:
		report(c.Started(*msg.LineIndex))
	case protocol.ActionEnded:
		report(c.Ended(*msg.LineIndex))
	case protocol.ActionStop:
		c.Stop()
	case protocol.ActionDismiss:
		c.DismissNotice()
	case protocol.ActionRefresh:
		go c.RefreshCached(ctx)
	}
}

func (s *Server) wsMessage(direction string, t protocol.MessageType) {
	if s.metrics != nil && t != "" {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type
	case protocol.ClientPing:
		return m.Type
	case protocol.PlaybackState:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	case protocol.Pong:
		return m.Type
	default:
		return ""
	}
}

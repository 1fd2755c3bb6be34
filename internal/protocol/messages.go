// Package protocol defines the websocket messages exchanged with a duel view.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/robocomic/internal/playback"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeClientPing    MessageType = "client_ping"
	TypePlaybackState MessageType = "playback_state"
	TypeErrorEvent    MessageType = "error_event"
	TypePong          MessageType = "pong"
)

// Control actions a client may send.
const (
	ActionPlay    = "play"
	ActionStarted = "started"
	ActionEnded   = "ended"
	ActionStop    = "stop"
	ActionDismiss = "dismiss_error"
	ActionRefresh = "refresh_cached"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	ViewID    string      `json:"view_id"`
	Action    string      `json:"action"`
	LineIndex *int        `json:"line_index,omitempty"`
}

type ClientPing struct {
	Type   MessageType `json:"type"`
	ViewID string      `json:"view_id"`
	TSMs   int64       `json:"ts_ms"`
}

type Pong struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms"`
}

// PlaybackState is pushed whenever a view's playback state changes.
type PlaybackState struct {
	Type   MessageType    `json:"type"`
	ViewID string         `json:"view_id"`
	State  playback.State `json:"state"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ViewID    string      `json:"view_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewPlaybackState(viewID string, s playback.State) PlaybackState {
	return PlaybackState{Type: TypePlaybackState, ViewID: viewID, State: s}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ViewID == "" {
			return nil, errors.New("invalid client_control: missing view_id")
		}
		switch msg.Action {
		case ActionPlay, ActionStarted, ActionEnded:
			if msg.LineIndex == nil || *msg.LineIndex < 0 {
				return nil, fmt.Errorf("invalid client_control: %s needs line_index", msg.Action)
			}
		case ActionStop, ActionDismiss, ActionRefresh:
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	case TypeClientPing:
		var msg ClientPing
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

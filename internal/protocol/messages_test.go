package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/robocomic/internal/playback"
)

func TestParseClientMessagePlay(t *testing.T) {
	raw := []byte(`{"type":"client_control","view_id":"v1","action":"play","line_index":3}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.ViewID != "v1" || control.LineIndex == nil || *control.LineIndex != 3 {
		t.Fatalf("unexpected control: %+v", control)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageValidatesControl(t *testing.T) {
	cases := map[string]string{
		"no view":     `{"type":"client_control","action":"stop"}`,
		"no line":     `{"type":"client_control","view_id":"v1","action":"play"}`,
		"negative":    `{"type":"client_control","view_id":"v1","action":"ended","line_index":-1}`,
		"bad action":  `{"type":"client_control","view_id":"v1","action":"rewind"}`,
		"broken json": `{"type":`,
	}
	for name, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: ParseClientMessage() error = nil, want error", name)
		}
	}

	msg, err := ParseClientMessage([]byte(`{"type":"client_control","view_id":"v1","action":"stop"}`))
	if err != nil {
		t.Fatalf("stop: ParseClientMessage() error = %v", err)
	}
	if msg.(ClientControl).Action != ActionStop {
		t.Fatalf("action = %q, want stop", msg.(ClientControl).Action)
	}
}

func TestPlaybackStateEncoding(t *testing.T) {
	msg := NewPlaybackState("v1", playback.State{Version: 4, ActiveLine: playback.NoActiveLine})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `"type":"playback_state"`) || !strings.Contains(body, `"active_line":-1`) {
		t.Fatalf("encoded = %s", body)
	}
}

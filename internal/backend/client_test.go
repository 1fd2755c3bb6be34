package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu      sync.Mutex
	samples []string
}

func (r *recordingObserver) ObserveBackend(endpoint string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, endpoint)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *recordingObserver) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	obs := &recordingObserver{}
	return NewClient(ClientConfig{BaseURL: srv.URL + "/", Observer: obs}), obs
}

func TestGenerateShowDecodesHistory(t *testing.T) {
	c, obs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-show" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req GenerateShowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.NumRounds != 2 || req.Comedian1Style != "janusz" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"history":[{"role":"chat_manager","content":"hi"},{"role":"janusz","content":"joke"}],"success":true}`))
	})

	lines, err := c.GenerateShow(context.Background(), GenerateShowRequest{Comedian1Style: "janusz", Comedian2Style: "gen_z", NumRounds: 2})
	if err != nil {
		t.Fatalf("GenerateShow() error = %v", err)
	}
	if len(lines) != 2 || lines[1].Content != "joke" {
		t.Fatalf("GenerateShow() = %+v", lines)
	}
	if len(obs.samples) != 1 || obs.samples[0] != "/generate-show" {
		t.Fatalf("observer samples = %v", obs.samples)
	}
}

func TestRateLimitedStatusIsClassified(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"success":false,"error":"Usage limit reached"}`))
	})

	_, err := c.GenerateShow(context.Background(), GenerateShowRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Status != 429 || !apiErr.RateLimited() || !IsRateLimited(err) {
		t.Fatalf("apiErr = %+v, want rate limited 429", apiErr)
	}
	if apiErr.Message != "Usage limit reached" {
		t.Fatalf("Message = %q, want backend error text", apiErr.Message)
	}
}

func TestServerErrorUsesDetailOrFallback(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"quota exceeded","error_code":"TTS_QUOTA"}`))
	})

	_, err := c.Synthesize(context.Background(), TTSRequest{Text: "x", Lang: "en"})
	apiErr := AsAPIError(err, "unused")
	if apiErr.Status != 500 || apiErr.Code != "TTS_QUOTA" || apiErr.Message != "quota exceeded" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if apiErr.RateLimited() {
		t.Fatalf("RateLimited() = true for 500")
	}
}

func TestNetworkFailureIsUniformError(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, HealthTimeout: time.Second})
	err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if !apiErr.Network() || apiErr.Message != MsgNetworkError {
		t.Fatalf("apiErr = %+v, want network error", apiErr)
	}
}

func TestSynthesizeReturnsBytes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req TTSRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.VoiceID != "v1" {
			t.Errorf("voice_id = %q, want v1", req.VoiceID)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	})
	data, err := c.Synthesize(context.Background(), TTSRequest{Text: "hi", Lang: "en", VoiceID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(data) != "ID3audio" {
		t.Fatalf("Synthesize() = %q", data)
	}
}

func TestSynthesizeRejectsOversizedAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3audio"))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxAudioBytes: 4})
	_, err := c.Synthesize(context.Background(), TTSRequest{Text: "hi", Lang: "en"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeBadResponse {
		t.Fatalf("Synthesize() error = %v, want %s", err, CodeBadResponse)
	}

	c = NewClient(ClientConfig{BaseURL: srv.URL, MaxAudioBytes: 8})
	data, err := c.Synthesize(context.Background(), TTSRequest{Text: "hi", Lang: "en"})
	if err != nil || string(data) != "ID3audio" {
		t.Fatalf("Synthesize() = %q, %v, want clip at the limit", data, err)
	}
}

func TestPersonasAcceptsWrappedAndBareMaps(t *testing.T) {
	for _, body := range []string{
		`{"personas":{"janusz":{"description":"d","description_pl":"p"}}}`,
		`{"janusz":{"description":"d","description_pl":"p"}}`,
	} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		got, err := c.Personas(context.Background())
		if err != nil {
			t.Fatalf("Personas(%s) error = %v", body, err)
		}
		if got["janusz"].DescriptionPL != "p" {
			t.Fatalf("Personas(%s) = %+v", body, got)
		}
	}
}

func TestKeepAlivePingsUntilCancelled(t *testing.T) {
	var mu sync.Mutex
	pings := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pings++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	KeepAlive(ctx, c, 20*time.Millisecond, nil)

	mu.Lock()
	defer mu.Unlock()
	if pings < 2 {
		t.Fatalf("pings = %d, want at least 2", pings)
	}
}

func TestMockGeneratesAnnouncementAndFullRounds(t *testing.T) {
	lines, err := NewMock().GenerateShow(context.Background(), GenerateShowRequest{
		Comedian1Style: "janusz", Comedian2Style: "gen_z", NumRounds: 1,
	})
	if err != nil {
		t.Fatalf("GenerateShow() error = %v", err)
	}
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5", len(lines))
	}
	if lines[0].Role != "chat_manager" || lines[1].Role != "janusz" || lines[2].Role != "gen_z" {
		t.Fatalf("roles = %q %q %q", lines[0].Role, lines[1].Role, lines[2].Role)
	}
}

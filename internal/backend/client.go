package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/transcript"
)

const maxAudioBytes = 32 << 20

// Observer receives one sample per backend call. Status is 0 when the
// backend was unreachable.
type Observer interface {
	ObserveBackend(endpoint string, status int, elapsed time.Duration)
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	TTSTimeout    time.Duration
	HealthTimeout time.Duration
	Observer      Observer
	// MaxAudioBytes caps a synthesized clip. Zero means 32 MiB.
	MaxAudioBytes int64
}

// Client talks to the backend over HTTP. Synthesis and health probes use
// their own timeouts; every other call uses Timeout.
type Client struct {
	baseURL       string
	client        *http.Client
	ttsClient     *http.Client
	healthTimeout time.Duration
	observer      Observer
	maxAudio      int64
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = 60 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = maxAudioBytes
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:        &http.Client{Timeout: cfg.Timeout},
		ttsClient:     &http.Client{Timeout: cfg.TTSTimeout},
		healthTimeout: cfg.HealthTimeout,
		observer:      cfg.Observer,
		maxAudio:      cfg.MaxAudioBytes,
	}
}

func (c *Client) GenerateShow(ctx context.Context, req GenerateShowRequest) ([]transcript.Line, error) {
	var out generateShowResponse
	if err := c.doJSON(ctx, c.client, http.MethodPost, "/generate-show", req, &out, MsgGenerateShowFailed); err != nil {
		return nil, err
	}
	if out.Success != nil && !*out.Success {
		msg := out.Message
		if msg == "" {
			msg = MsgGenerateShowFailed
		}
		return nil, &APIError{Message: msg, Status: http.StatusOK, Code: CodeBadResponse}
	}
	if out.History == nil {
		out.History = []transcript.Line{}
	}
	return out.History, nil
}

func (c *Client) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	res, err := c.send(ctx, c.ttsClient, http.MethodPost, "/tts", req, MsgTTSFailed)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxAudio+1))
	if err != nil {
		return nil, &APIError{Message: MsgTTSFailed, Status: res.StatusCode, Code: CodeBadResponse, Err: err}
	}
	if int64(len(data)) > c.maxAudio {
		return nil, &APIError{Message: MsgTTSFailed, Status: res.StatusCode, Code: CodeBadResponse, Err: fmt.Errorf("audio exceeds %d bytes", c.maxAudio)}
	}
	if len(data) == 0 {
		return nil, &APIError{Message: MsgTTSFailed, Status: res.StatusCode, Code: CodeBadResponse}
	}
	return data, nil
}

func (c *Client) Personas(ctx context.Context) (map[string]PersonaInfo, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, c.client, http.MethodGet, "/personas", nil, &raw, MsgPersonasFailed); err != nil {
		return nil, err
	}
	personas, err := decodePersonas(raw)
	if err != nil {
		return nil, &APIError{Message: MsgPersonasFailed, Status: http.StatusOK, Code: CodeBadResponse, Err: err}
	}
	return personas, nil
}

// decodePersonas accepts both {"personas": {...}} and a bare map.
func decodePersonas(raw []byte) (map[string]PersonaInfo, error) {
	var wrapped struct {
		Personas map[string]PersonaInfo `json:"personas"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Personas != nil {
		return wrapped.Personas, nil
	}
	var bare map[string]PersonaInfo
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	if bare == nil {
		bare = map[string]PersonaInfo{}
	}
	return bare, nil
}

func (c *Client) VoiceIDs(ctx context.Context) (VoiceIDs, error) {
	var out VoiceIDs
	err := c.doJSON(ctx, c.client, http.MethodGet, "/voice-ids", nil, &out, MsgUnexpectedError)
	return out, err
}

func (c *Client) JudgeShow(ctx context.Context, req JudgeRequest) (JudgeResult, error) {
	var out JudgeResult
	err := c.doJSON(ctx, c.client, http.MethodPost, "/judge-show", req, &out, MsgJudgeFailed)
	return out, err
}

// Health is a liveness probe bounded by the short health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	res, err := c.send(ctx, c.client, http.MethodGet, "/health", nil, MsgUnexpectedError)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	return res.Body.Close()
}

func (c *Client) LLMConfig(ctx context.Context) (LLMConfig, error) {
	var out LLMConfig
	err := c.doJSON(ctx, c.client, http.MethodGet, "/llm-config", nil, &out, MsgUnexpectedError)
	return out, err
}

func (c *Client) TemperaturePresets(ctx context.Context) ([]TemperaturePreset, error) {
	var out []TemperaturePreset
	err := c.doJSON(ctx, c.client, http.MethodGet, "/temperature-presets", nil, &out, MsgUnexpectedError)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path string, body, out any, fallback string) error {
	res, err := c.send(ctx, hc, method, path, body, fallback)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &APIError{Message: fallback, Status: res.StatusCode, Code: CodeBadResponse, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// send performs one request and converts every failure into *APIError.
// On success the caller owns res.Body.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, fallback string) (*http.Response, error) {
	ctx, span := observability.StartSpan(ctx, "backend "+method+" "+path)
	defer span.End()
	span.SetAttributes(attribute.String("backend.endpoint", path))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Message: fallback, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &APIError{Message: fallback, Err: fmt.Errorf("create request: %w", err)}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := hc.Do(httpReq)
	if err != nil {
		c.observe(path, 0, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, &APIError{Message: MsgNetworkError, Code: CodeNetwork, Err: fmt.Errorf("send request: %w", err)}
	}
	c.observe(path, res.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		apiErr := decodeErrorBody(res.StatusCode, raw, fallback)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}
	return res, nil
}

func decodeErrorBody(status int, raw []byte, fallback string) *APIError {
	apiErr := &APIError{Message: fallback, Status: status}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.ErrorCode
		switch {
		case strings.TrimSpace(body.Error) != "":
			apiErr.Message = body.Error
		case body.Detail != nil:
			if s, ok := body.Detail.(string); ok && strings.TrimSpace(s) != "" {
				apiErr.Message = s
			}
		}
	}
	if status == http.StatusTooManyRequests {
		if apiErr.Code == "" {
			apiErr.Code = CodeRateLimited
		}
		if apiErr.Message == fallback {
			apiErr.Message = MsgRateLimited
		}
	}
	apiErr.Err = errors.New(strings.TrimSpace(string(raw)))
	return apiErr
}

func (c *Client) observe(endpoint string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveBackend(endpoint, status, elapsed)
	}
}

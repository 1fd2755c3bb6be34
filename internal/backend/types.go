// Package backend is the client for the external generation backend:
// show generation, judging, speech synthesis and persona metadata.
package backend

import (
	"context"

	"github.com/ent0n29/robocomic/internal/transcript"
)

// Show modes and languages accepted by the backend.
const (
	ModeTopical = "topical"
	ModeRoast   = "roast"

	LangEnglish = "en"
	LangPolish  = "pl"
)

// API is the set of backend calls the service depends on.
type API interface {
	GenerateShow(ctx context.Context, req GenerateShowRequest) ([]transcript.Line, error)
	Synthesize(ctx context.Context, req TTSRequest) ([]byte, error)
	Personas(ctx context.Context) (map[string]PersonaInfo, error)
	VoiceIDs(ctx context.Context) (VoiceIDs, error)
	JudgeShow(ctx context.Context, req JudgeRequest) (JudgeResult, error)
	Health(ctx context.Context) error
	LLMConfig(ctx context.Context) (LLMConfig, error)
	TemperaturePresets(ctx context.Context) ([]TemperaturePreset, error)
}

// PersonaDescriptor carries a persona inline so custom personas reach the
// backend without a lookup on its side.
type PersonaDescriptor struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	DescriptionPL string `json:"description_pl,omitempty"`
}

type GenerateShowRequest struct {
	Comedian1Style   string             `json:"comedian1_style"`
	Comedian2Style   string             `json:"comedian2_style"`
	Comedian1Persona *PersonaDescriptor `json:"comedian1_persona,omitempty"`
	Comedian2Persona *PersonaDescriptor `json:"comedian2_persona,omitempty"`
	Lang             string             `json:"lang"`
	Mode             string             `json:"mode"`
	Topic            string             `json:"topic"`
	NumRounds        int                `json:"num_rounds"`
	BuildContext     bool               `json:"build_context"`
	Temperature      *float64           `json:"temperature,omitempty"`
}

type generateShowResponse struct {
	History []transcript.Line `json:"history"`
	Success *bool             `json:"success,omitempty"`
	Message string            `json:"message,omitempty"`
}

type TTSRequest struct {
	Text    string `json:"text"`
	Lang    string `json:"lang"`
	VoiceID string `json:"voice_id,omitempty"`
}

type PersonaInfo struct {
	Style         string `json:"style,omitempty"`
	Description   string `json:"description"`
	DescriptionPL string `json:"description_pl"`
	// Custom marks a persona defined by the user rather than the backend.
	Custom bool `json:"custom,omitempty"`
}

type VoiceIDs struct {
	Comedian1 string `json:"comedian1_voice_id"`
	Comedian2 string `json:"comedian2_voice_id"`
}

// For returns the voice assigned to a debater.
func (v VoiceIDs) For(s transcript.Speaker) string {
	if s == transcript.SecondDebater {
		return v.Comedian2
	}
	return v.Comedian1
}

type JudgeRequest struct {
	Comedian1Name string            `json:"comedian1_name"`
	Comedian2Name string            `json:"comedian2_name"`
	History       []transcript.Line `json:"history"`
	Lang          string            `json:"lang"`
}

type JudgeResult struct {
	Winner  string `json:"winner"`
	Summary string `json:"summary"`
}

type LLMConfig struct {
	Temperature float64 `json:"temperature"`
}

type TemperaturePreset struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description,omitempty"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Detail    any    `json:"detail"`
}

package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/ent0n29/robocomic/internal/audio"
	"github.com/ent0n29/robocomic/internal/transcript"
)

// Mock is a deterministic offline backend for local development.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

var mockPersonas = map[string]PersonaInfo{
	"janusz": {
		Style:         "janusz",
		Description:   "A stubborn middle-aged know-it-all with strong opinions about everything.",
		DescriptionPL: "Uparty Janusz, który zna się na wszystkim.",
	},
	"gen_z": {
		Style:         "gen_z",
		Description:   "Speaks fluent internet slang and is unimpressed by everything.",
		DescriptionPL: "Mówi slangiem internetu i nic go nie robi wrażenia.",
	},
	"sarcastic": {
		Style:         "sarcastic",
		Description:   "A master of dry wit and biting sarcasm.",
		DescriptionPL: "Mistrz ciętej riposty i sarkazmu.",
	},
	"absurd": {
		Style:         "absurd",
		Description:   "Loves surreal, nonsensical humor and wild punchlines.",
		DescriptionPL: "Uwielbia surrealistyczny, absurdalny humor i szalone puenty.",
	},
}

func (m *Mock) GenerateShow(ctx context.Context, req GenerateShowRequest) ([]transcript.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rounds := req.NumRounds
	if rounds <= 0 {
		rounds = 1
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = "anything"
	}
	lines := []transcript.Line{{
		Role:    "chat_manager",
		Content: fmt.Sprintf("Welcome to the duel between %s and %s about %s!", req.Comedian1Style, req.Comedian2Style, topic),
	}}
	for r := 1; r <= rounds; r++ {
		for turn := 0; turn < transcript.RoundSize; turn++ {
			name := req.Comedian1Style
			if turn%2 == 1 {
				name = req.Comedian2Style
			}
			lines = append(lines, transcript.Line{
				Role:    name,
				Content: fmt.Sprintf("%q", fmt.Sprintf("Round %d, joke %d from %s about %s.", r, turn/2+1, name, topic)),
			})
		}
	}
	return lines, nil
}

// Synthesize returns a short tone whose pitch depends on the voice and
// whose length depends on the text.
func (m *Mock) Synthesize(ctx context.Context, req TTSRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, &APIError{Message: "Text cannot be empty", Status: 422}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.VoiceID))
	freq := 220 + float64(h.Sum32()%440)
	d := time.Duration(min(len(req.Text), 200)) * 10 * time.Millisecond
	data, err := audio.ToneWAV(freq, max(d, 200*time.Millisecond), 16000)
	if err != nil {
		return nil, &APIError{Message: MsgTTSFailed, Err: err}
	}
	return data, nil
}

func (m *Mock) Personas(context.Context) (map[string]PersonaInfo, error) {
	out := make(map[string]PersonaInfo, len(mockPersonas))
	for k, v := range mockPersonas {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) VoiceIDs(context.Context) (VoiceIDs, error) {
	return VoiceIDs{Comedian1: "mock-voice-1", Comedian2: "mock-voice-2"}, nil
}

func (m *Mock) JudgeShow(_ context.Context, req JudgeRequest) (JudgeResult, error) {
	var c1, c2 int
	for _, e := range transcript.Segment(req.History).Entries() {
		if e.Speaker == transcript.FirstDebater {
			c1 += len(e.Line.Content)
		} else {
			c2 += len(e.Line.Content)
		}
	}
	winner := req.Comedian1Name
	if c2 > c1 {
		winner = req.Comedian2Name
	}
	return JudgeResult{Winner: winner, Summary: fmt.Sprintf("%s told the longer jokes.", winner)}, nil
}

func (m *Mock) Health(ctx context.Context) error { return ctx.Err() }

func (m *Mock) LLMConfig(context.Context) (LLMConfig, error) {
	return LLMConfig{Temperature: 0.9}, nil
}

func (m *Mock) TemperaturePresets(context.Context) ([]TemperaturePreset, error) {
	return []TemperaturePreset{
		{Name: "conservative", Temperature: 0.3},
		{Name: "balanced", Temperature: 0.7},
		{Name: "creative", Temperature: 0.9},
		{Name: "experimental", Temperature: 1.0},
	}, nil
}

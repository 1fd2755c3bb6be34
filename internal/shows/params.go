package shows

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/store"
)

const (
	MinRounds      = 1
	MaxRounds      = 5
	MaxTopicLength = 500
)

var ErrInvalidParams = errors.New("invalid show parameters")

// GenerateParams is what the show form submits.
type GenerateParams struct {
	Comedian1    string   `json:"comedian1"`
	Comedian2    string   `json:"comedian2"`
	Lang         string   `json:"lang"`
	Topic        string   `json:"topic"`
	RoastMode    bool     `json:"roast_mode"`
	NumRounds    int      `json:"num_rounds"`
	BuildContext bool     `json:"build_context"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Normalize trims and defaults p, then checks it.
func (p *GenerateParams) Normalize() error {
	p.Comedian1 = strings.TrimSpace(p.Comedian1)
	p.Comedian2 = strings.TrimSpace(p.Comedian2)
	p.Topic = strings.TrimSpace(p.Topic)
	p.Lang = strings.ToLower(strings.TrimSpace(p.Lang))
	if p.Lang == "" {
		p.Lang = backend.LangEnglish
	}

	var errs []error
	if p.Comedian1 == "" || p.Comedian2 == "" {
		errs = append(errs, errors.New("both comedians must be selected"))
	}
	if p.Lang != backend.LangEnglish && p.Lang != backend.LangPolish {
		errs = append(errs, fmt.Errorf("unsupported language %q", p.Lang))
	}
	if p.NumRounds < MinRounds || p.NumRounds > MaxRounds {
		errs = append(errs, fmt.Errorf("num_rounds must be between %d and %d", MinRounds, MaxRounds))
	}
	if utf8.RuneCountInString(p.Topic) > MaxTopicLength {
		errs = append(errs, fmt.Errorf("topic must be at most %d characters", MaxTopicLength))
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		errs = append(errs, errors.New("temperature must be between 0 and 2"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(errs...))
	}
	return nil
}

func (p GenerateParams) mode() string {
	if p.RoastMode {
		return backend.ModeRoast
	}
	return backend.ModeTopical
}

// Stored converts p into the parameters saved with a show.
func (p GenerateParams) Stored() store.ShowParams {
	return store.ShowParams{
		Comedian1Style: p.Comedian1,
		Comedian2Style: p.Comedian2,
		Lang:           p.Lang,
		Mode:           p.mode(),
		Topic:          p.Topic,
		NumRounds:      p.NumRounds,
		BuildContext:   p.BuildContext,
		Temperature:    p.Temperature,
	}
}

var titleWord = regexp.MustCompile(`\w\S*`)

// TitleCase turns a persona key like "gen_z" into "Gen Z".
func TitleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return titleWord.ReplaceAllStringFunc(s, func(w string) string {
		r, size := utf8.DecodeRuneInString(w)
		return string(unicode.ToUpper(r)) + w[size:]
	})
}

// Title names a saved show, e.g. "Janusz vs. Gen Z - 21:05 03.02.2025".
func Title(comedian1, comedian2 string, at time.Time) string {
	return fmt.Sprintf("%s vs. %s - %s", TitleCase(comedian1), TitleCase(comedian2), at.Format("15:04 02.01.2006"))
}

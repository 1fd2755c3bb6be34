// Package transcript groups a flat duel transcript into an announcement and
// rounds of alternating turns.
package transcript

import (
	"regexp"
	"strings"
)

// RoundSize is the number of lines in a full round, two per debater.
const RoundSize = 4

// Line is one message of a generated show as returned by the backend.
type Line struct {
	Role    string `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// Kind classifies who produced a line.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindSystem       Kind = "system"
	KindDebater      Kind = "debater"
)

// Kind reports the line classification derived from its role.
func (l Line) Kind() Kind {
	role := strings.ToLower(strings.TrimSpace(l.Role))
	switch {
	case strings.Contains(role, "manager"):
		return KindAnnouncement
	case role == "system":
		return KindSystem
	default:
		return KindDebater
	}
}

// Playable reports whether audio may be synthesized for the line.
func (l Line) Playable() bool {
	return l.Kind() == KindDebater
}

// Speaker identifies the debater a line is attributed to.
type Speaker int

const (
	FirstDebater Speaker = iota
	SecondDebater
)

func (s Speaker) String() string {
	if s == SecondDebater {
		return "comedian2"
	}
	return "comedian1"
}

// SpeakerFor attributes a line by its index in the announcement-free
// sequence. Alternation is global and never restarts at a round boundary.
func SpeakerFor(index int) Speaker {
	if index%2 == 0 {
		return FirstDebater
	}
	return SecondDebater
}

// Entry is a line placed in a round. Index is its position in the
// announcement-free sequence and is the playback correlation key.
type Entry struct {
	Index   int     `json:"line_index"`
	Line    Line    `json:"line"`
	Speaker Speaker `json:"speaker"`
	Display string  `json:"display"`
}

// Playable reports whether the entry's line is eligible for audio.
func (e Entry) Playable() bool {
	return e.Line.Playable()
}

// Round holds up to RoundSize consecutive entries.
type Round struct {
	Number  int     `json:"number"`
	Entries []Entry `json:"entries"`
}

// Segmented is the grouped form of a transcript.
type Segmented struct {
	Announcement *Line   `json:"announcement,omitempty"`
	Rounds       []Round `json:"rounds"`
}

// Entries flattens the rounds back into index order.
func (s Segmented) Entries() []Entry {
	out := make([]Entry, 0, len(s.Rounds)*RoundSize)
	for _, r := range s.Rounds {
		out = append(out, r.Entries...)
	}
	return out
}

// Segment removes the first announcement line and chunks the rest into
// rounds. The last round may be short; it is never padded.
func Segment(lines []Line) Segmented {
	remaining := make([]Line, 0, len(lines))
	var announcement *Line
	for _, l := range lines {
		if announcement == nil && l.Kind() == KindAnnouncement {
			a := l
			announcement = &a
			continue
		}
		remaining = append(remaining, l)
	}

	out := Segmented{Announcement: announcement, Rounds: []Round{}}
	for start := 0; start < len(remaining); start += RoundSize {
		end := min(start+RoundSize, len(remaining))
		round := Round{Number: len(out.Rounds) + 1, Entries: make([]Entry, 0, end-start)}
		for i := start; i < end; i++ {
			round.Entries = append(round.Entries, Entry{
				Index:   i,
				Line:    remaining[i],
				Speaker: SpeakerFor(i),
				Display: StripQuotes(remaining[i].Content),
			})
		}
		out.Rounds = append(out.Rounds, round)
	}
	return out
}

var quoteTrim = regexp.MustCompile(`^[„"']+|[”"']+$`)

// StripQuotes removes surrounding quotation marks for display. Cache keys
// are always derived from the raw content.
func StripQuotes(s string) string {
	return quoteTrim.ReplaceAllString(s, "")
}

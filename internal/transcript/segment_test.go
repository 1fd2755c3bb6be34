package transcript

import "testing"

func lines(n int, withAnnouncement bool) []Line {
	out := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		role := "comedian1"
		if i%2 == 1 {
			role = "comedian2"
		}
		if i == 0 && withAnnouncement {
			role = "chat_manager"
		}
		out = append(out, Line{Role: role, Content: string(rune('a' + i))})
	}
	return out
}

func roundSizes(s Segmented) []int {
	sizes := make([]int, 0, len(s.Rounds))
	for _, r := range s.Rounds {
		sizes = append(sizes, len(r.Entries))
	}
	return sizes
}

func TestSegmentNineLinesYieldsTwoFullRounds(t *testing.T) {
	in := lines(9, true)
	got := Segment(in)

	if got.Announcement == nil || got.Announcement.Content != in[0].Content {
		t.Fatalf("Announcement = %+v, want line 0", got.Announcement)
	}
	sizes := roundSizes(got)
	if len(sizes) != 2 || sizes[0] != 4 || sizes[1] != 4 {
		t.Fatalf("round sizes = %v, want [4 4]", sizes)
	}
	if got.Rounds[1].Entries[0].Line.Content != in[5].Content {
		t.Fatalf("round 2 first line = %q, want %q", got.Rounds[1].Entries[0].Line.Content, in[5].Content)
	}
}

func TestSegmentTenLinesLeavesShortLastRound(t *testing.T) {
	got := Segment(lines(10, true))
	sizes := roundSizes(got)
	if len(sizes) != 3 || sizes[2] != 1 {
		t.Fatalf("round sizes = %v, want [4 4 1]", sizes)
	}
	if got.Rounds[2].Number != 3 {
		t.Fatalf("last round number = %d, want 3", got.Rounds[2].Number)
	}
}

func TestSegmentWithoutAnnouncement(t *testing.T) {
	got := Segment(lines(4, false))
	if got.Announcement != nil {
		t.Fatalf("Announcement = %+v, want nil", got.Announcement)
	}
	if sizes := roundSizes(got); len(sizes) != 1 || sizes[0] != 4 {
		t.Fatalf("round sizes = %v, want [4]", sizes)
	}
}

func TestSegmentEmpty(t *testing.T) {
	got := Segment(nil)
	if got.Announcement != nil || len(got.Rounds) != 0 {
		t.Fatalf("Segment(nil) = %+v, want empty", got)
	}
}

func TestSegmentRemovesOnlyFirstAnnouncement(t *testing.T) {
	in := []Line{
		{Role: "manager", Content: "welcome"},
		{Role: "comedian1", Content: "one"},
		{Role: "Chat_Manager", Content: "intermission"},
	}
	got := Segment(in)
	entries := got.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Playable() {
		t.Fatalf("second manager line Playable() = true, want false")
	}
}

func TestIndicesAndAlternationAreGlobal(t *testing.T) {
	got := Segment(lines(10, true))
	for want, e := range got.Entries() {
		if e.Index != want {
			t.Fatalf("entry index = %d, want %d", e.Index, want)
		}
		wantSpeaker := FirstDebater
		if want%2 == 1 {
			wantSpeaker = SecondDebater
		}
		if e.Speaker != wantSpeaker {
			t.Fatalf("entry %d speaker = %v, want %v", want, e.Speaker, wantSpeaker)
		}
	}
}

func TestLineKind(t *testing.T) {
	cases := map[string]Kind{
		"chat_manager": KindAnnouncement,
		"MANAGER":      KindAnnouncement,
		"system":       KindSystem,
		"janusz":       KindDebater,
		"":             KindDebater,
	}
	for role, want := range cases {
		if got := (Line{Role: role}).Kind(); got != want {
			t.Fatalf("Kind(%q) = %q, want %q", role, got, want)
		}
	}
}

func TestStripQuotes(t *testing.T) {
	cases := map[string]string{
		`"hello"`:       "hello",
		"„cześć”":       "cześć",
		"'single'":      "single",
		`it's "inside"`: `it's "inside`,
		"plain":         "plain",
	}
	for in, want := range cases {
		if got := StripQuotes(in); got != want {
			t.Fatalf("StripQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayStripsButLineKeepsRaw(t *testing.T) {
	got := Segment([]Line{{Role: "comedian1", Content: `"joke"`}})
	e := got.Entries()[0]
	if e.Display != "joke" {
		t.Fatalf("Display = %q, want joke", e.Display)
	}
	if e.Line.Content != `"joke"` {
		t.Fatalf("Line.Content = %q, want raw content", e.Line.Content)
	}
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is one timed span of transcribed text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the structured output of a transcription stage: ordered
// segments plus the full plain text.
type Transcript struct {
	Plain     string    `json:"plain"`
	Segments  []Segment `json:"segments"`
	WordCount int       `json:"word_count"`
}

// Clone returns a deep copy of the transcript.
func (t *Transcript) Clone() *Transcript {
	cp := *t
	cp.Segments = make([]Segment, len(t.Segments))
	copy(cp.Segments, t.Segments)
	return &cp
}

// ToPlain concatenates segment text with single spaces. Falls back to the
// stored plain text when there are no segments.
func (t *Transcript) ToPlain() string {
	if len(t.Segments) == 0 {
		return t.Plain
	}
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// transcriptExport is the JSON wire shape for transcript downloads.
type transcriptExport struct {
	Plain     string    `json:"plain"`
	Segments  []Segment `json:"segments"`
	WordCount int       `json:"word_count"`
	CharCount int       `json:"char_count"`
}

// ToJSON renders the transcript preserving full segment structure plus
// word and character counts.
func (t *Transcript) ToJSON() ([]byte, error) {
	plain := t.ToPlain()
	wc := t.WordCount
	if wc == 0 && plain != "" {
		wc = len(strings.Fields(plain))
	}
	export := transcriptExport{
		Plain:     plain,
		Segments:  t.Segments,
		WordCount: wc,
		CharCount: len(plain),
	}
	if export.Segments == nil {
		export.Segments = []Segment{}
	}
	return json.MarshalIndent(export, "", "  ")
}

// ToSRT renders the transcript as a SubRip subtitle file: cues numbered
// from 1, timestamps as HH:MM:SS,mmm.
func (t *Transcript) ToSRT() string {
	var b strings.Builder
	for i, seg := range t.Segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(seg.Start), srtTimestamp(seg.End))
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(seg.Text))
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int(seconds*1000 + 0.5)
	h := millis / 3600000
	m := (millis % 3600000) / 60000
	s := (millis % 60000) / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

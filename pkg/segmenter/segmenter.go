// Package segmenter turns a growing stream of chat completion deltas into speakable units,
// i.e. sentence-like chunks long enough for the TTS provider to accept.
//
// The provider rejects short inputs (OpenAI speech wants roughly a sentence), and tiny
// clips also sound choppy, so short sentences are held back in a pending fragment and
// glued to the next one. Text without a sentence terminator yet stays in the buffer.
package segmenter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMinLength is the provider minimum; no unit below it is ever emitted.
	DefaultMinLength = 28
	// DefaultNoiseFloor - sentences shorter than this (like "1." or "Ok.") never go out alone.
	DefaultNoiseFloor = 10
)

// Segmenter is NOT safe for concurrent use, the owner (the coordinator) serializes calls.
//
// Invariant: every character passed to Extend ends up in exactly one emitted unit,
// or stays in buffer / fragment until Flush (modulo whitespace trimmed at unit edges).
type Segmenter struct {
	minLength  int
	noiseFloor int

	buffer   string // text since the last sentence boundary
	fragment string // completed sentences still too short to emit
}

func New(minLength int, noiseFloor int) *Segmenter {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if noiseFloor < 0 {
		noiseFloor = DefaultNoiseFloor
	}
	return &Segmenter{
		minLength:  minLength,
		noiseFloor: noiseFloor,
	}
}

func NewDefault() *Segmenter {
	return New(DefaultMinLength, DefaultNoiseFloor)
}

// Extend appends delta to the carry-over buffer and returns the units which became complete.
// Usually zero or one, but a large delta can complete several sentences at once.
// A sentence ending right at the end of delta is emitted by the next Extend (or Flush).
func (s *Segmenter) Extend(delta string) (units []string) {
	s.buffer += delta
	for {
		idx := sentenceBoundary(s.buffer)
		if idx < 0 {
			break
		}
		segment := strings.TrimSpace(s.buffer[:idx+1])
		s.buffer = s.buffer[idx+1:]

		if unit, ok := s.accept(segment); ok {
			units = append(units, unit)
		}
	}
	return
}

func (s *Segmenter) accept(segment string) (unit string, ok bool) {
	if segment == "" {
		return
	}

	if s.fragment != "" {
		combined := s.fragment + " " + segment
		if TextLength(combined) >= s.threshold() {
			s.fragment = ""
			return combined, true
		}
		s.fragment = combined
		return
	}

	if TextLength(segment) >= s.threshold() {
		return segment, true
	}
	s.fragment = segment
	return
}

// threshold only differs from minLength if someone configured a minimum below the noise floor.
func (s *Segmenter) threshold() int {
	return max(s.minLength, s.noiseFloor)
}

// Buffer returns the unterminated trailing text, untrimmed.
func (s *Segmenter) Buffer() string {
	return s.buffer
}

func (s *Segmenter) PendingFragment() string {
	return s.fragment
}

// Remainder is what Flush would return, without clearing anything.
func (s *Segmenter) Remainder() string {
	return joinNonEmpty(s.fragment, strings.TrimSpace(s.buffer))
}

// Flush returns pending fragment + buffer joined by a space and clears both.
// The caller decides whether the result is long enough to be dispatched.
func (s *Segmenter) Flush() string {
	result := s.Remainder()
	s.Reset()
	return result
}

func (s *Segmenter) Reset() {
	s.buffer = ""
	s.fragment = ""
}

func (s *Segmenter) MinLength() int {
	return s.minLength
}

// TextLength counts characters (runes), which is what the provider limits are expressed in.
func TextLength(text string) int {
	return utf8.RuneCountInString(text)
}

// sentenceBoundary returns the index of the first '.', '!' or '?' followed by whitespace,
// -1 if there is none.
// A terminator at the very end is undecided until the next delta ("3" "." "5"), only
// Flush treats the end of the text as a sentence end.
// Decimals like "3.5" do not count, an ellipsis counts only at its last dot.
func sentenceBoundary(text string) int {
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			next, _ := utf8.DecodeRuneInString(text[i+1:])
			if unicode.IsSpace(next) {
				return i
			}
		}
	}
	return -1
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

package chunking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Visit %d note: patient reports stable glycemic control on metformin.", i+1)
	}
	return b.String()
}

func TestChunkEmptyTextReturnsNothing(t *testing.T) {
	chunks, err := NewSplitter().Chunk("", 256, 32)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunkRejectsOverlapNotSmallerThanMax(t *testing.T) {
	for _, tc := range []struct{ max, overlap int }{{32, 32}, {32, 64}, {0, 0}} {
		_, err := NewSplitter().Chunk(sentences(3), tc.max, tc.overlap)
		if !errors.Is(err, ErrInvalidWindow) {
			t.Fatalf("max=%d overlap=%d: expected ErrInvalidWindow, got %v", tc.max, tc.overlap, err)
		}
	}
}

func TestChunkIsDeterministicAndDropsShortFragments(t *testing.T) {
	text := sentences(60)
	s := NewSplitter()

	first, err := s.Chunk(text, 64, 16)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	second, err := s.Chunk(text, 64, 16)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output on re-run")
	}
	if len(first) < 2 {
		t.Fatalf("expected several chunks, got %d", len(first))
	}
	for i, c := range first {
		if utf8.RuneCountInString(strings.TrimSpace(c)) <= MinChunkChars {
			t.Fatalf("chunk %d too short: %q", i, c)
		}
		if utf8.RuneCountInString(c) > 64*CharsPerToken {
			t.Fatalf("chunk %d exceeds window: %d runes", i, utf8.RuneCountInString(c))
		}
	}
}

func TestChunkCoversSourceText(t *testing.T) {
	text := sentences(40)
	chunks, err := NewSplitter().Chunk(text, 64, 24)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	// Every chunk is a verbatim slice of the source, in order.
	offset := 0
	covered := 0
	for i, c := range chunks {
		idx := strings.Index(text[offset:], c)
		if idx < 0 {
			idx = strings.Index(text, c)
			if idx < 0 {
				t.Fatalf("chunk %d is not a substring of the source", i)
			}
		} else {
			idx += offset
		}
		if idx > covered+1 {
			t.Fatalf("gap before chunk %d: covered up to %d, chunk starts at %d", i, covered, idx)
		}
		if end := idx + len(c); end > covered {
			covered = end
		}
		offset = idx
	}
	if covered < len(strings.TrimSpace(text)) {
		t.Fatalf("expected full coverage, covered %d of %d bytes", covered, len(text))
	}
}

func TestChunkSnapsToSentenceBoundary(t *testing.T) {
	head := strings.Repeat("a", 150) + ". "
	text := head + strings.Repeat("b", 400)

	chunks, err := NewSplitter().Chunk(text, 64, 8)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected chunks")
	}
	want := strings.Repeat("a", 150) + "."
	if chunks[0] != want {
		t.Fatalf("expected first chunk to end at the sentence boundary, got %q", chunks[0])
	}
}

func TestChunkDoesNotSnapToBoundaryAtWindowStart(t *testing.T) {
	text := strings.Repeat("x", 600)
	chunks, err := NewSplitter().Chunk(text, 64, 8)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if got := utf8.RuneCountInString(chunks[0]); got != 64*CharsPerToken {
		t.Fatalf("expected hard cut at %d runes, got %d", 64*CharsPerToken, got)
	}
}

func TestChunkCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 300)
	chunks, err := NewSplitter().Chunk(text, 32, 4)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid utf-8", i)
		}
		if utf8.RuneCountInString(c) > 32*CharsPerToken {
			t.Fatalf("chunk %d exceeds window", i)
		}
	}
}

func TestChunkShortTextBelowMinimumIsDropped(t *testing.T) {
	chunks, err := NewSplitter().Chunk("HbA1c 6.8%.", 256, 32)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected short text to be filtered, got %v", chunks)
	}
}

package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

const (
	// CharsPerToken approximates the tokenizer without depending on one.
	CharsPerToken = 4
	// MinChunkChars drops near-empty fragments; a kept chunk is strictly longer.
	MinChunkChars = 50
)

var (
	ClinicalConfig = domain.ClinicalChunkConfig
	PolicyConfig   = domain.PolicyChunkConfig
)

var ErrInvalidWindow = errors.New("chunk overlap must be smaller than chunk size")

type Splitter struct{}

func NewSplitter() *Splitter {
	return &Splitter{}
}

// Chunk windows text into pieces of at most maxTokens*CharsPerToken runes. A window that
// does not reach the end of text is cut after the last ". " inside it, when there is one
// past the window start. The start always advances by the full step, so snapping never
// stalls progress.
func (s *Splitter) Chunk(text string, maxTokens, overlapTokens int) ([]string, error) {
	maxChars := maxTokens * CharsPerToken
	overlapChars := overlapTokens * CharsPerToken
	step := maxChars - overlapChars
	if maxChars <= 0 || overlapChars < 0 || step <= 0 {
		return nil, fmt.Errorf("%w: max=%d overlap=%d", ErrInvalidWindow, maxTokens, overlapTokens)
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		edge := start + maxChars
		end := edge
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			if cut := lastSentenceEnd(runes, start, end); cut > start {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(chunk) > MinChunkChars {
			out = append(out, chunk)
		}
		if edge >= len(runes) {
			break
		}
	}
	return out, nil
}

// lastSentenceEnd returns the index just past the last period in runes[start:end] that
// is followed by a space, or -1.
func lastSentenceEnd(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == '.' && i+1 < len(runes) && runes[i+1] == ' ' {
			return i + 1
		}
	}
	return -1
}

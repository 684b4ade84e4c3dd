// Package chunker splits input text into bounded, sentence-aligned units for
// speech synthesis.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/voice-service/internal/core"
)

// ErrInvalidMaxChunkLength is returned for a non-positive chunk length limit.
var ErrInvalidMaxChunkLength = core.ErrInvalidMaxChunkLength

const (
	sentenceJoiner  = " "
	defaultEnding   = "."
	terminatorChars = ".?!"
)

// Chunk splits text into sentences and greedily packs them into chunks of at
// most maxChunkLength runes, sentences joined by a single space. A sentence
// that is longer than the limit on its own becomes its own chunk; sentences
// are never cut. Empty text yields no chunks.
func Chunk(text string, maxChunkLength int) ([]core.TextChunk, error) {
	if maxChunkLength <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxChunkLength, maxChunkLength)
	}

	sentences := Sentences(text)
	if len(sentences) == 0 {
		return []core.TextChunk{}, nil
	}

	var (
		contents      []string
		current       strings.Builder
		currentLength int
	)

	for _, sentence := range sentences {
		sentenceLength := utf8.RuneCountInString(sentence)

		if currentLength == 0 {
			current.WriteString(sentence)
			currentLength = sentenceLength

			continue
		}

		if currentLength+len(sentenceJoiner)+sentenceLength <= maxChunkLength {
			current.WriteString(sentenceJoiner)
			current.WriteString(sentence)
			currentLength += len(sentenceJoiner) + sentenceLength

			continue
		}

		contents = append(contents, current.String())
		current.Reset()
		current.WriteString(sentence)
		currentLength = sentenceLength
	}

	contents = append(contents, current.String())

	chunks := make([]core.TextChunk, len(contents))
	for index, content := range contents {
		chunks[index] = core.TextChunk{
			Index:   index,
			Content: content,
			IsFinal: index == len(contents)-1,
		}
	}

	return chunks, nil
}

// Sentences splits text on ". ", "? " and "! " (any whitespace after the
// terminator), trims each candidate, drops empty candidates and appends a
// period to candidates without terminal punctuation.
func Sentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	runes := []rune(text)

	for position := 0; position < len(runes)-1; position++ {
		if !isTerminator(runes[position]) || !unicode.IsSpace(runes[position+1]) {
			continue
		}

		sentences = appendSentence(sentences, string(runes[start:position+1]))
		start = position + 1
	}

	if start < len(runes) {
		sentences = appendSentence(sentences, string(runes[start:]))
	}

	return sentences
}

func appendSentence(sentences []string, candidate string) []string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return sentences
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if !isTerminator(last) {
		trimmed += defaultEnding
	}

	return append(sentences, trimmed)
}

func isTerminator(char rune) bool {
	return strings.ContainsRune(terminatorChars, char)
}

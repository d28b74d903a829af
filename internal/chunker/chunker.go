package chunker

import (
	"strings"
	"unicode"
)

const DefaultMaxSentences = 10

// Chunker groups consecutive sentences into chunks holding at most
// maxSentences sentences each.
type Chunker struct {
	maxSentences int
}

func New(maxSentences int) *Chunker {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Chunker{maxSentences: maxSentences}
}

func (c *Chunker) MaxSentences() int {
	return c.maxSentences
}

func (c *Chunker) Chunk(text string) []string {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return []string{}
	}
	chunks := make([]string, 0, (len(sentences)+c.maxSentences-1)/c.maxSentences)
	for start := 0; start < len(sentences); start += c.maxSentences {
		end := start + c.maxSentences
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[start:end], " "))
	}
	return chunks
}

// Chunk splits text with a one-off chunker.
func Chunk(text string, maxSentences int) []string {
	return New(maxSentences).Chunk(text)
}

// Sentences splits text into trimmed sentences. A sentence ends at a run of
// '.', '!' or '?' (plus any closing quotes or brackets) followed by
// whitespace or the end of the text. Whitespace runs collapse to one space.
func Sentences(text string) []string {
	normalized := []rune(strings.Join(strings.Fields(text), " "))
	if len(normalized) == 0 {
		return []string{}
	}
	var sentences []string
	start := 0
	for i := 0; i < len(normalized); i++ {
		if !isTerminator(normalized[i]) {
			continue
		}
		j := i + 1
		for j < len(normalized) && isTerminator(normalized[j]) {
			j++
		}
		for j < len(normalized) && isCloser(normalized[j]) {
			j++
		}
		if j < len(normalized) && !unicode.IsSpace(normalized[j]) && !hasWideTerminator(normalized[i:j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(normalized[start:j])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}
	if start < len(normalized) {
		if s := strings.TrimSpace(string(normalized[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	if sentences == nil {
		return []string{}
	}
	return sentences
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func hasWideTerminator(rs []rune) bool {
	for _, r := range rs {
		if r == '。' || r == '！' || r == '？' {
			return true
		}
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»':
		return true
	}
	return false
}

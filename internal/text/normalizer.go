// Package text turns raw page selections or SSML documents into the bounded
// chunks the synthesis provider accepts.
package text

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

const (
	speakOpenTag  = "<speak>"
	speakCloseTag = "</speak>"

	// Provider limit for one SSML request, in bytes.
	maxChunkBytes = 5000
)

// Chunk is one independently synthesizable unit of text or SSML.
type Chunk struct {
	Text     string
	SSML     bool
	Sequence int
}

var (
	// Matches one tag token or one text run; tags are atomic split units.
	ssmlToken = regexp.MustCompile(`<[^>]*>|[^<]+`)

	spaceRuns  = regexp.MustCompile(`[ \t\r\f]+`)
	blankLines = regexp.MustCompile(`\n(?:[ \t]*\n)+`)

	xmlEscaper = strings.NewReplacer(
		"&", "&#x26;",
		"<", "&#x3C;",
		">", "&#x3E;",
		`"`, "&#x22;",
		"'", "&#x27;",
	)
)

// IsSSML reports whether the trimmed text is wrapped in a <speak> root. This
// is a shallow heuristic, not a parse: the inner markup is never validated.
func IsSSML(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, speakOpenTag) && strings.HasSuffix(trimmed, speakCloseTag)
}

// Normalizer sanitizes plain text for SSML-safe synthesis and splits either
// form into provider-sized chunks.
type Normalizer struct {
	policy    *bluemonday.Policy
	tokenizer *sentences.DefaultSentenceTokenizer
}

func NewNormalizer() (*Normalizer, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load sentence tokenizer: %w", err)
	}
	return &Normalizer{
		policy:    bluemonday.StrictPolicy(),
		tokenizer: tok,
	}, nil
}

// Sanitize strips markup from plain text and escapes the five XML-significant
// characters as numeric references. SSML input is returned untouched; empty
// input yields an empty string. Entities are decoded before re-escaping so
// already-escaped text never double-escapes.
func (n *Normalizer) Sanitize(s string) string {
	if s == "" {
		return ""
	}
	if IsSSML(s) {
		return s
	}

	sanitized := n.policy.Sanitize(s)

	sanitized = spaceRuns.ReplaceAllString(sanitized, " ")
	sanitized = blankLines.ReplaceAllString(sanitized, "\n")
	sanitized = strings.TrimSpace(sanitized)

	sanitized = html.UnescapeString(sanitized)

	return xmlEscaper.Replace(sanitized)
}

// Chunk splits text into ordered synthesizable chunks: sentence-level units
// for plain text, size-bounded <speak> documents for SSML. Empty input yields
// no chunks, which callers treat as nothing to do.
func (n *Normalizer) Chunk(s string) []Chunk {
	var parts []string
	ssml := IsSSML(s)
	if ssml {
		parts = chunkSSML(s)
	} else {
		parts = n.splitSentences(s)
	}

	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{Text: p, SSML: ssml, Sequence: i})
	}
	return chunks
}

func (n *Normalizer) splitSentences(s string) []string {
	var out []string
	for _, sentence := range n.tokenizer.Tokenize(s) {
		if t := strings.TrimSpace(sentence.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// chunkSSML strips the outer <speak> wrapper and greedily packs tag and text
// tokens into chunks whose re-wrapped form stays under the provider limit.
// Tag tokens are never split; a text run too large to fit any chunk on its
// own is split at the byte limit.
func chunkSSML(s string) []string {
	trimmed := strings.TrimSpace(s)
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, speakOpenTag), speakCloseTag)

	limit := maxChunkBytes - len(speakOpenTag) - len(speakCloseTag)

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, speakOpenTag+current.String()+speakCloseTag)
		current.Reset()
	}

	appendToken := func(token string) {
		if current.Len()+len(token) > limit {
			flush()
		}
		current.WriteString(token)
	}

	for _, token := range ssmlToken.FindAllString(inner, -1) {
		if len(token) > limit && !strings.HasPrefix(token, "<") {
			for _, piece := range splitRun(token, limit) {
				appendToken(piece)
			}
			continue
		}
		appendToken(token)
	}
	flush()

	return chunks
}

// splitRun cuts a text run into pieces of at most limit bytes without
// breaking UTF-8 sequences.
func splitRun(s string, limit int) []string {
	var pieces []string
	var b strings.Builder
	for _, r := range s {
		if b.Len()+len(string(r)) > limit {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}

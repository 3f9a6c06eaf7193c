package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"company-rag/internal/models"
)

const (
	DefaultTargetChars  = 1200
	DefaultOverlapChars = 200
)

// two or more consecutive newlines; a line holding only spaces is not a break
var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// accumulator is the packing state for a single document.
// units counts entries that are not the overlap seed.
type accumulator struct {
	buffer []string
	length int
	units  int
}

// add appends a unit and returns the new state
func (a accumulator) add(unit string, n int) accumulator {
	a.buffer = append(a.buffer, unit)
	a.length += n + 1
	a.units++
	return a
}

// restart begins a new buffer after a flush, keeping the seed if there is one.
// The seed itself is not counted, so a seeded chunk stays within
// targetChars+overlapChars.
func (a accumulator) restart(unit string, n int) accumulator {
	a.length = n
	if len(a.buffer) > 0 {
		a.length++
	}
	a.buffer = append(a.buffer, unit)
	a.units++
	return a
}

// flush emits the buffered text as a chunk and returns the state seeded with
// the trailing overlapChars characters of that chunk.
func (a accumulator) flush(meta models.Metadata, overlapChars int, out []models.Chunk) (accumulator, []models.Chunk) {
	if a.units == 0 {
		return a, out
	}
	text := strings.TrimSpace(strings.Join(a.buffer, " "))
	out = append(out, models.Chunk{Text: text, Metadata: meta.Clone()})

	next := accumulator{}
	if overlapChars > 0 && utf8.RuneCountInString(text) > overlapChars {
		tail := lastRunes(text, overlapChars)
		next.buffer = []string{tail}
		next.length = utf8.RuneCountInString(tail)
	}
	return next, out
}

// Chunk splits every page into overlapping chunks of roughly targetChars
// characters. Each chunk carries its own copy of the page metadata.
func Chunk(pages []models.Document, targetChars, overlapChars int) []models.Chunk {
	var chunks []models.Chunk

	for _, page := range pages {
		before := len(chunks)
		acc := accumulator{}

		for _, para := range splitParagraphs(lightClean(page.Text)) {
			para = clean(para)
			if para == "" {
				continue
			}

			units := []string{para}
			if utf8.RuneCountInString(para) > targetChars {
				units = splitSentences(para)
			}

			for _, u := range units {
				u = clean(u)
				if u == "" {
					continue
				}
				n := utf8.RuneCountInString(u)
				if acc.length+n+1 <= targetChars {
					acc = acc.add(u, n)
					continue
				}
				acc, chunks = acc.flush(page.Metadata, overlapChars, chunks)
				acc = acc.restart(u, n)
			}
		}
		_, chunks = acc.flush(page.Metadata, overlapChars, chunks)

		log.Debug().
			Str("source", page.Metadata.Source).
			Int("page", page.Metadata.Page).
			Int("chunks", len(chunks)-before).
			Msg("Chunked page")
	}

	return chunks
}

func lightClean(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// clean collapses all whitespace runs to single spaces
func clean(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func splitParagraphs(text string) []string {
	parts := nonEmpty(paragraphBreak.Split(text, -1))
	if len(parts) == 1 {
		parts = nonEmpty(strings.Split(text, "\n"))
	}
	return parts
}

// splitSentences cuts text at whitespace runs that follow '.', '!' or '?'
// and precede an uppercase letter, a digit or an opening quote.
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || !isTerminal(runes[i-1]) {
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j < len(runes) && opensSentence(runes[j]) {
			parts = append(parts, string(runes[start:i]))
			start = j
		}
		i = j - 1
	}
	parts = append(parts, string(runes[start:]))
	return nonEmpty(parts)
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func opensSentence(r rune) bool {
	switch r {
	case '"', '\'', '“', '‘':
		return true
	}
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

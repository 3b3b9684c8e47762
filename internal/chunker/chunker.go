// Package chunker splits extracted document text into retrievable chunks.
// All splitting is pure and deterministic: the same text and mode always
// produce the same chunk sequence.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters
// between consecutive general-mode chunks.
const DefaultChunkOverlap = 200

// Mode selects the chunking strategy for a document.
type Mode string

const (
	// ModeGeneral uses a sliding window with sentence-boundary snapping.
	ModeGeneral Mode = "general"
	// ModeStatute splits at legal citation markers (sections, articles,
	// chapters, CFR citations).
	ModeStatute Mode = "statute"
	// ModeLetter splits at page breaks and numbered paragraphs.
	ModeLetter Mode = "letter"
)

// ParseMode validates a mode string. Unknown values fall back to general.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStatute:
		return ModeStatute
	case ModeLetter:
		return ModeLetter
	default:
		return ModeGeneral
	}
}

// PageBreakMarker is inserted by extractors between pages of paginated
// documents and recognised by letter-mode chunking.
const PageBreakMarker = "--- Page "

// legalMarker matches citation markers that open a new statute section.
// The marker stays attached to the start of the following chunk.
var legalMarker = regexp.MustCompile(`(?i)§\s*\d+[\w.-]*|Section\s+\d+[\w.-]*|Article\s+[IVXLC]+|Chapter\s+\d+|\b\d+\s*CFR\s*\d+`)

// numberedParagraph matches "\n 1. " style paragraph starts in letters.
var numberedParagraph = regexp.MustCompile(`\n\s*\d+\.\s+`)

// Chunker produces chunk sequences from raw text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithChunkOverlap sets the overlap between consecutive chunks in characters.
func WithChunkOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.chunkOverlap = overlap
		}
	}
}

// New creates a Chunker. It returns an error if the resulting configuration
// violates the overlap < size invariant.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkOverlap >= c.chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.chunkOverlap, c.chunkSize)
	}
	return c, nil
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Chunk splits text according to mode. Empty and whitespace-only fragments
// are discarded; every returned chunk is trimmed and non-empty.
func (c *Chunker) Chunk(text string, mode Mode) []string {
	switch mode {
	case ModeStatute:
		return c.chunkStatute(text)
	case ModeLetter:
		return c.chunkLetter(text)
	default:
		return c.chunkGeneral(text)
	}
}

// chunkGeneral slides a window of chunkSize characters over the text.
// When the remaining text exceeds the window, the cut is snapped back to the
// last sentence terminator or newline inside the window, provided that break
// lies beyond the window midpoint. The window then advances to
// end - chunkOverlap so consecutive chunks share context across the cut.
// All positions are rune indices so cuts never land inside a multibyte
// character.
func (c *Chunker) chunkGeneral(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return trimNonEmpty([]string{text})
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		breakAt := -1
		for i := end - 1; i >= start; i-- {
			if runes[i] == '.' || runes[i] == '\n' {
				breakAt = i - start
				break
			}
		}
		if breakAt > c.chunkSize/2 {
			end = start + breakAt + 1
		}

		chunks = append(chunks, string(runes[start:end]))

		next := end - c.chunkOverlap
		if next <= start {
			// Overlap would stall the window; fall back to a hard advance.
			next = end
		}
		start = next
	}

	return trimNonEmpty(chunks)
}

// chunkStatute splits on legal citation markers, keeping each marker at the
// head of the chunk it introduces. An accumulated section larger than twice
// the chunk size is flushed through general chunking, carrying only the last
// sub-chunk forward, which bounds the buffer regardless of section length.
func (c *Chunker) chunkStatute(text string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	pos := 0
	for _, loc := range legalMarker.FindAllStringIndex(text, -1) {
		current.WriteString(text[pos:loc[0]])
		if utf8.RuneCountInString(current.String()) > 2*c.chunkSize {
			sub := c.chunkGeneral(current.String())
			if len(sub) > 0 {
				chunks = append(chunks, sub[:len(sub)-1]...)
				current.Reset()
				current.WriteString(sub[len(sub)-1])
			}
		}
		flush()
		current.WriteString(text[loc[0]:loc[1]])
		current.WriteString(" ")
		pos = loc[1]
	}
	current.WriteString(text[pos:])
	if utf8.RuneCountInString(current.String()) > 2*c.chunkSize {
		sub := c.chunkGeneral(current.String())
		if len(sub) > 0 {
			chunks = append(chunks, sub[:len(sub)-1]...)
			current.Reset()
			current.WriteString(sub[len(sub)-1])
		}
	}
	flush()

	return chunks
}

// chunkLetter splits on page-break markers first, then on numbered
// paragraphs within each page. Paragraphs longer than the chunk size are
// re-chunked with the general strategy.
func (c *Chunker) chunkLetter(text string) []string {
	var chunks []string

	for _, page := range strings.Split(text, PageBreakMarker) {
		if strings.TrimSpace(page) == "" {
			continue
		}
		for _, paragraph := range numberedParagraph.Split(page, -1) {
			paragraph = strings.TrimSpace(paragraph)
			if paragraph == "" {
				continue
			}
			if utf8.RuneCountInString(paragraph) > c.chunkSize {
				chunks = append(chunks, c.chunkGeneral(paragraph)...)
			} else {
				chunks = append(chunks, paragraph)
			}
		}
	}

	return chunks
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

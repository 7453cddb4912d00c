// Package chunker splits documents into token-bounded segments for the
// construction pipeline. Chunks carry rune offsets into the original text
// and content-derived ids, so re-chunking an unchanged document produces
// identical chunks.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/graphloom/loom/pkg/common"
)

const (
	defaultEncoding  = "cl100k_base"
	defaultMaxTokens = 300
)

// Chunker cuts a document into bounded segments.
type Chunker interface {
	Chunk(doc common.Document) ([]common.Chunk, error)
}

// TokenChunker accumulates sentences until a token budget would be
// exceeded. A single sentence over the budget becomes its own chunk; the
// model sees it whole or not at all.
type TokenChunker struct {
	encoding  string
	maxTokens int
}

// Params configures a TokenChunker. Zero values select cl100k_base and a
// 300 token budget.
type Params struct {
	Encoding  string
	MaxTokens int
}

func NewTokenChunker(params Params) *TokenChunker {
	if params.Encoding == "" {
		params.Encoding = defaultEncoding
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultMaxTokens
	}
	return &TokenChunker{
		encoding:  params.Encoding,
		maxTokens: params.MaxTokens,
	}
}

type sentence struct {
	start int
	end   int
}

// Chunk splits the document text into chunks of at most the configured
// token budget. Each chunk's text is the exact rune slice
// [Start, End) of the document, so provenance survives round trips.
func (c *TokenChunker) Chunk(doc common.Document) ([]common.Chunk, error) {
	enc, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		return nil, fmt.Errorf("chunker: loading encoding %q: %w", c.encoding, err)
	}

	runes := []rune(doc.Text)
	sentences := splitSentences(runes)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []common.Chunk
	chunkStart := -1
	chunkEnd := -1
	chunkTokens := 0

	flush := func() {
		if chunkStart < 0 {
			return
		}
		text := strings.TrimRight(string(runes[chunkStart:chunkEnd]), " \t\r\n")
		chunks = append(chunks, common.Chunk{
			ID:         chunkID(doc.ID, chunkStart, chunkStart+len([]rune(text)), text),
			DocumentID: doc.ID,
			Start:      chunkStart,
			End:        chunkStart + len([]rune(text)),
			Text:       text,
		})
		chunkStart = -1
		chunkEnd = -1
		chunkTokens = 0
	}

	for _, s := range sentences {
		tokens := len(enc.Encode(string(runes[s.start:s.end]), nil, nil))
		if chunkStart >= 0 && chunkTokens+tokens > c.maxTokens {
			flush()
		}
		if chunkStart < 0 {
			chunkStart = s.start
		}
		chunkEnd = s.end
		chunkTokens += tokens
	}
	flush()

	return chunks, nil
}

// chunkID derives a stable id from the document id, position and content.
// Identical input yields identical ids, which is what lets the vector
// index replace instead of duplicate on re-ingestion.
func chunkID(docID string, start, end int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", docID, start, end, text)))
	return fmt.Sprintf("%x", sum[:8])
}

// splitSentences walks the text once, emitting sentence spans as rune
// offsets. A sentence ends at terminal punctuation (with trailing closing
// quotes and brackets attached) or at a blank line. Numbered listings like
// "1. Scope" do not end a sentence at the digit's dot.
func splitSentences(runes []rune) []sentence {
	var out []sentence
	start := -1

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}

		switch r {
		case '.', '!', '?':
			if i > start && unicode.IsDigit(runes[i-1]) && i+1 < len(runes) && runes[i+1] == ' ' {
				continue
			}
			j := i + 1
			for j < len(runes) && (runes[j] == '.' || runes[j] == '!' || runes[j] == '?') {
				j++
			}
			for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == '”' ||
				runes[j] == '’' || runes[j] == ')' || runes[j] == ']' || runes[j] == '}') {
				j++
			}
			out = append(out, sentence{start: start, end: j})
			start = -1
			i = j - 1
		case '\n':
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && runes[j] == '\n' {
				out = append(out, sentence{start: start, end: i})
				start = -1
			}
		}
	}
	if start >= 0 {
		out = append(out, sentence{start: start, end: len(runes)})
	}
	return out
}

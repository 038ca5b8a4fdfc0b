// Package ingestion splits source documents into chunks sized for embedding.
package ingestion

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"unicode"

	"github.com/knoguchi/hybridkb/internal/models"
)

// Chunking methods.
const (
	MethodFixed    = "fixed"
	MethodSentence = "sentence"
)

// Config holds chunking parameters. Sizes are word counts, which stand in
// for tokens.
type Config struct {
	Method     string `json:"method"`
	TargetSize int    `json:"target_size"`
	MaxSize    int    `json:"max_size"`
	Overlap    int    `json:"overlap"`
}

// DefaultConfig returns the default chunker configuration
func DefaultConfig() Config {
	return Config{
		Method:     MethodSentence,
		TargetSize: 256,
		MaxSize:    512,
		Overlap:    32,
	}
}

// Validate checks a chunker configuration.
func (c Config) Validate() error {
	switch c.Method {
	case "", MethodFixed, MethodSentence:
	default:
		return fmt.Errorf("invalid chunking method: %s (valid: fixed, sentence)", c.Method)
	}
	if c.TargetSize < 0 || c.MaxSize < 0 || c.Overlap < 0 {
		return fmt.Errorf("chunk sizes cannot be negative")
	}
	if c.TargetSize > 0 && c.MaxSize > 0 && c.TargetSize > c.MaxSize {
		return fmt.Errorf("target_size (%d) cannot be greater than max_size (%d)", c.TargetSize, c.MaxSize)
	}
	if c.Overlap > 0 && c.TargetSize > 0 && c.Overlap >= c.TargetSize {
		return fmt.Errorf("overlap (%d) must be less than target_size (%d)", c.Overlap, c.TargetSize)
	}
	return nil
}

// Chunker splits documents into DocChunks.
type Chunker struct {
	config Config
}

// NewChunker creates a Chunker, filling unset fields from DefaultConfig.
func NewChunker(config Config) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if config.Method == "" {
		config.Method = def.Method
	}
	if config.TargetSize == 0 {
		config.TargetSize = def.TargetSize
		if config.MaxSize > 0 {
			config.TargetSize = min(config.TargetSize, config.MaxSize)
		}
	}
	if config.MaxSize == 0 {
		config.MaxSize = max(def.MaxSize, config.TargetSize)
	}
	if config.Overlap >= config.TargetSize {
		config.Overlap = config.TargetSize / 4
	}
	return &Chunker{config: config}, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// ChunkDocuments chunks every document in order.
func (c *Chunker) ChunkDocuments(docs []models.Document) []models.DocChunk {
	var chunks []models.DocChunk
	for _, doc := range docs {
		chunks = append(chunks, c.ChunkDocument(doc)...)
	}
	return chunks
}

// ChunkDocument splits doc into chunks with IDs "<docID>_<n>". Each chunk
// carries a copy of the document metadata plus the chunking method.
func (c *Chunker) ChunkDocument(doc models.Document) []models.DocChunk {
	var pieces []piece
	switch c.config.Method {
	case MethodFixed:
		pieces = c.fixed(strings.Fields(doc.Text))
	default:
		pieces = c.sentences(doc.Text)
	}

	chunks := make([]models.DocChunk, len(pieces))
	for i, p := range pieces {
		metadata := maps.Clone(doc.Metadata)
		if metadata == nil {
			metadata = make(map[string]string, 2)
		}
		metadata["chunk_method"] = c.config.Method
		metadata["word_count"] = strconv.Itoa(p.words)

		chunks[i] = models.DocChunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			Text:       p.text,
			Source:     doc.Source,
			Metadata:   metadata,
		}
	}
	return chunks
}

type piece struct {
	text  string
	words int
}

// fixed slides a TargetSize window over words, advancing by TargetSize
// minus Overlap.
func (c *Chunker) fixed(words []string) []piece {
	var pieces []piece
	step := c.config.TargetSize - c.config.Overlap
	for i := 0; i < len(words); i += step {
		end := min(i+c.config.TargetSize, len(words))
		pieces = append(pieces, piece{text: strings.Join(words[i:end], " "), words: end - i})
		if end == len(words) {
			break
		}
	}
	return pieces
}

// sentences packs whole sentences until TargetSize words, never exceeding
// MaxSize. Sentences longer than MaxSize fall back to fixed windows.
// Trailing sentences of each chunk are repeated at the start of the next
// until Overlap words are covered.
func (c *Chunker) sentences(text string) []piece {
	var (
		pieces  []piece
		current []string
		count   int
	)

	flush := func(keepOverlap bool) {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, piece{text: strings.Join(current, " "), words: count})
		if keepOverlap {
			current, count = c.overlapTail(current)
		} else {
			current, count = nil, 0
		}
	}

	for _, sentence := range splitSentences(text) {
		n := len(strings.Fields(sentence))

		if n > c.config.MaxSize {
			flush(false)
			pieces = append(pieces, c.fixed(strings.Fields(sentence))...)
			continue
		}
		if count+n > c.config.MaxSize {
			flush(true)
			// The overlap alone may leave no room for this sentence.
			if count+n > c.config.MaxSize {
				current, count = nil, 0
			}
		}

		current = append(current, sentence)
		count += n
		if count >= c.config.TargetSize {
			flush(true)
		}
	}

	// A trailing buffer holding only overlap repeats text already emitted.
	if len(pieces) == 0 || !isOverlapOnly(current, pieces[len(pieces)-1].text) {
		flush(false)
	}
	return pieces
}

func (c *Chunker) overlapTail(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 {
		return nil, 0
	}
	words := 0
	i := len(sentences)
	for i > 0 && words < c.config.Overlap {
		i--
		words += len(strings.Fields(sentences[i]))
	}
	// Never carry the whole chunk forward.
	if i == 0 {
		return nil, 0
	}
	return append([]string(nil), sentences[i:]...), words
}

func isOverlapOnly(current []string, lastText string) bool {
	return len(current) > 0 && strings.HasSuffix(lastText, strings.Join(current, " "))
}

// splitSentences splits text on '.', '!' and '?' followed by whitespace or
// end of text, skipping common abbreviations.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	prevSpace := true
	for i, r := range runes {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			r = ' '
		}
		prevSpace = r == ' '
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(current.String())
		if sentence != "" && !endsWithAbbreviation(sentence) {
			sentences = append(sentences, sentence)
			current.Reset()
			prevSpace = true
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}

var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.",
	"inc.", "ltd.", "corp.",
	"etc.", "e.g.", "i.e.",
	"vs.", "v.",
	"st.", "no.", "vol.",
}

func endsWithAbbreviation(text string) bool {
	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(lower, abbr) {
			continue
		}
		// Only a whole word counts: "Dr." but not "Redr."
		rest := lower[:len(lower)-len(abbr)]
		if rest == "" || strings.HasSuffix(rest, " ") {
			return true
		}
	}
	return false
}

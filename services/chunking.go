package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"school-copilot/models"

	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 100

	// sentences of this many characters or fewer are dropped
	minSentenceLength = 10
)

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	disallowedRegex   = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-()\[\]{}"'/]`)
	sentenceEndRegex  = regexp.MustCompile(`([.!?]+)\s+`)
	pageMarkerRegex   = regexp.MustCompile(`\[PAGE (\d+)\]`)
	slideMarkerRegex  = regexp.MustCompile(`\[SLIDE (\d+)\]`)
	sectionHeadRegexs = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^(Chapter \d+)`),
		regexp.MustCompile(`(?m)^(Section \d+)`),
		regexp.MustCompile(`(?m)^([A-Z][A-Za-z\s]+):`),
		regexp.MustCompile(`(?m)^(\d+\.\s+[A-Za-z\s]+)`),
	}
)

// ChunkingService splits extracted document text into token-budgeted,
// overlapping chunks
type ChunkingService struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunkingService creates a chunker. chunkSize and chunkOverlap are in
// estimated tokens; an overlap below one word disables overlap.
func NewChunkingService(chunkSize, chunkOverlap int) *ChunkingService {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &ChunkingService{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Process chunks text belonging to documentID. Empty input gives an empty
// slice.
func (cs *ChunkingService) Process(documentID, text string) []models.Chunk {
	sentences := SplitSentences(CleanText(text))
	chunks := make([]models.Chunk, 0)
	if len(sentences) == 0 {
		return chunks
	}

	var buf strings.Builder
	bufTokens := 0
	lastPage := (*int)(nil)

	flush := func() {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			return
		}
		chunk := cs.newChunk(documentID, content, len(chunks), lastPage)
		if chunk.PageNumber != nil {
			lastPage = chunk.PageNumber
		}
		chunks = append(chunks, chunk)
	}

	for _, sentence := range sentences {
		sentenceTokens := EstimateTokens(sentence)

		if bufTokens+sentenceTokens > cs.chunkSize && buf.Len() > 0 {
			flush()

			overlap := overlapText(buf.String(), cs.chunkOverlap)
			buf.Reset()
			if overlap != "" {
				buf.WriteString(overlap)
				buf.WriteByte(' ')
			}
			buf.WriteString(sentence)
			bufTokens = EstimateTokens(buf.String())
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
		bufTokens += sentenceTokens
	}
	flush()

	return chunks
}

func (cs *ChunkingService) newChunk(documentID, content string, index int, inheritedPage *int) models.Chunk {
	page := pageNumber(content)
	if page == nil && inheritedPage != nil {
		p := *inheritedPage
		page = &p
	}
	return models.Chunk{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Content:    content,
		ChunkIndex: index,
		TokenCount: EstimateTokens(content),
		PageNumber: page,
		Section:    section(content),
		CreatedAt:  time.Now().UTC(),
	}
}

// CleanText normalizes line endings, strips characters outside the allow
// list and collapses whitespace runs to single spaces.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = disallowedRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSentences splits cleaned text after runs of terminal punctuation
// followed by whitespace. Fragments of ten characters or fewer are dropped.
// Each sentence keeps its terminal punctuation.
func SplitSentences(text string) []string {
	var out []string
	keep := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > minSentenceLength {
			out = append(out, s)
		}
	}

	start := 0
	for _, m := range sentenceEndRegex.FindAllStringSubmatchIndex(text, -1) {
		// m[3] is the end of the punctuation run
		keep(text[start:m[3]])
		start = m[1]
	}
	keep(text[start:])
	return out
}

// EstimateTokens approximates a token count as one token per four characters
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// overlapText returns the trailing overlapTokens/4 words of text, or all of
// text when it is shorter than that.
func overlapText(text string, overlapTokens int) string {
	n := overlapTokens / 4
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func pageNumber(content string) *int {
	m := pageMarkerRegex.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func section(content string) *string {
	if m := slideMarkerRegex.FindStringSubmatch(content); m != nil {
		s := "Slide " + m[1]
		return &s
	}
	// headings are looked for after the page marker
	content = strings.TrimSpace(pageMarkerRegex.ReplaceAllString(content, ""))
	for _, re := range sectionHeadRegexs {
		if m := re.FindStringSubmatch(content); m != nil {
			s := strings.TrimSpace(m[1])
			return &s
		}
	}
	return nil
}

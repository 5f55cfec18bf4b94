package orchestrator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/session"
)

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations maps the answer's [n] markers back to the context
// passages that were in the prompt. Each citation spans the sentence that
// carries the marker. Markers pointing outside the context range are model
// hallucinations and are dropped. When the answer carries no markers at all
// a lexical-overlap pass recovers citations for chunks the answer clearly
// restates.
func extractCitations(answer string, context []core.RetrievalResult) []session.Citation {
	if len(context) == 0 {
		return nil
	}

	runes := []rune(answer)
	var citations []session.Citation
	seen := make(map[string]struct{})

	for _, match := range markerPattern.FindAllStringSubmatchIndex(answer, -1) {
		n, err := strconv.Atoi(answer[match[2]:match[3]])
		if err != nil || n < 1 || n > len(context) {
			continue
		}
		result := context[n-1]

		markerStart := utf16SafeRuneIndex(answer, match[0])
		start, end := sentenceSpan(runes, markerStart)

		key := result.Chunk.ID + ":" + strconv.Itoa(start)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		citations = append(citations, session.Citation{
			ChunkID: result.Chunk.ID,
			Start:   start,
			End:     end,
			Score:   result.Score,
		})
	}

	if len(citations) == 0 {
		citations = overlapCitations(answer, runes, context)
	}
	return citations
}

// utf16SafeRuneIndex converts a byte offset into a rune offset.
func utf16SafeRuneIndex(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// sentenceSpan returns the rune range of the sentence containing pos. A
// sentence runs between terminators ('.', '!', '?', newline), terminator
// included.
func sentenceSpan(runes []rune, pos int) (start, end int) {
	if pos >= len(runes) {
		pos = len(runes) - 1
	}
	if pos < 0 {
		return 0, 0
	}

	start = 0
	for i := pos - 1; i >= 0; i-- {
		if isSentenceTerminator(runes[i]) {
			start = i + 1
			break
		}
	}
	for start < len(runes) && runes[start] == ' ' {
		start++
	}

	end = len(runes)
	for i := pos; i < len(runes); i++ {
		if isSentenceTerminator(runes[i]) {
			end = i + 1
			break
		}
	}
	return start, end
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// overlapThreshold is the fraction of a chunk's significant terms the
// answer must contain before the chunk is cited without a marker.
const overlapThreshold = 0.5

// overlapCitations cites chunks whose content the answer substantially
// restates. The whole answer is the cited span; without markers there is no
// finer-grained attribution to recover.
func overlapCitations(answer string, runes []rune, context []core.RetrievalResult) []session.Citation {
	answerTerms := significantTerms(answer)
	if len(answerTerms) == 0 {
		return nil
	}

	var citations []session.Citation
	for _, result := range context {
		chunkTerms := significantTerms(result.Chunk.Text)
		if len(chunkTerms) == 0 {
			continue
		}
		matched := 0
		for term := range chunkTerms {
			if _, ok := answerTerms[term]; ok {
				matched++
			}
		}
		if float64(matched)/float64(len(chunkTerms)) < overlapThreshold {
			continue
		}
		citations = append(citations, session.Citation{
			ChunkID: result.Chunk.ID,
			Start:   0,
			End:     len(runes),
			Score:   result.Score,
		})
	}
	return citations
}

// significantTerms returns the lowercased words of at least four runes.
// Short words are mostly stopwords and would make overlap meaningless.
func significantTerms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:!?()[]\"'")
		if len([]rune(word)) >= 4 {
			terms[word] = struct{}{}
		}
	}
	return terms
}

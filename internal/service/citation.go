package service

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// ValidateCitations extracts all [<integer>] markers from answerText,
// deduplicates them, and validates each against sourceMap's 1..N range.
// Invalid references are elided from the returned citation set and
// reported via the invalidCitations flag so the caller can attach the
// invalid_citations warning; they never fail the request.
func ValidateCitations(answerText string, sourceMap map[int]model.RetrievedChunk) (citations []int, invalidCitations bool) {
	seen := make(map[int]struct{})
	for _, match := range citationPattern.FindAllStringSubmatch(answerText, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, ok := sourceMap[n]; !ok {
			invalidCitations = true
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		citations = append(citations, n)
	}
	sort.Ints(citations)
	return citations, invalidCitations
}

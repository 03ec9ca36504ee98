package service

import (
	"regexp"
	"strings"

	"github.com/kraklabs/tonebase-ask/internal/config"
)

// QueryExpander performs deterministic intent detection and term expansion
// ahead of embedding. Pure function of its input and its loaded Rules.
type QueryExpander struct {
	intents    []compiledIntent
	expansions map[string][]string
}

type compiledIntent struct {
	tag      string
	patterns []*regexp.Regexp
}

// NewQueryExpander compiles whole-word keyword matchers from rules. Longer
// keyword phrases (e.g. "what is") are matched as literal substrings after
// normalization since \b-word boundaries don't apply cleanly to multi-word
// phrases; single words get a \b...\b regex so short queries don't trigger
// partial-word matches.
func NewQueryExpander(rules *config.Rules) *QueryExpander {
	qe := &QueryExpander{expansions: rules.Expansions}
	for _, group := range rules.Intents {
		ci := compiledIntent{tag: group.Tag}
		for _, kw := range group.Keywords {
			ci.patterns = append(ci.patterns, keywordPattern(kw))
		}
		qe.intents = append(qe.intents, ci)
	}
	return qe
}

func keywordPattern(keyword string) *regexp.Regexp {
	if strings.Contains(keyword, " ") {
		return regexp.MustCompile(regexp.QuoteMeta(strings.ToLower(keyword)))
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(keyword)) + `\b`)
}

// Expand runs intent detection then term expansion, returning the text the
// embedder should see plus the detected intent tag. Identical input always
// produces identical output.
func (qe *QueryExpander) Expand(text string) (expanded string, intentTag string) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	tag := "general"
	for _, group := range qe.intents {
		if matchesAny(normalized, group.patterns) {
			tag = group.tag
			break
		}
	}

	terms := qe.expansions[tag]
	if len(terms) == 0 {
		return text, tag
	}

	existing := make(map[string]struct{}, len(terms))
	var extra []string
	for _, term := range terms {
		key := strings.ToLower(term)
		if _, seen := existing[key]; seen {
			continue
		}
		if strings.Contains(normalized, key) {
			continue
		}
		existing[key] = struct{}{}
		extra = append(extra, term)
	}
	if len(extra) == 0 {
		return text, tag
	}
	return text + " " + strings.Join(extra, " "), tag
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

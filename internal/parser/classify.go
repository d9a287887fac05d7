package parser

import (
	"strings"

	"github.com/dshills/paperrag/pkg/types"
)

// sectionKeywords is checked in order; the first keyword contained in a
// heading decides its type.
var sectionKeywords = []struct {
	sectionType types.SectionType
	keywords    []string
}{
	{types.SectionAbstract, []string{"abstract"}},
	{types.SectionIntroduction, []string{"introduction", "intro"}},
	{types.SectionMethods, []string{"method", "methodology", "approach", "model", "architecture"}},
	{types.SectionResults, []string{"result", "experiment", "evaluation", "performance"}},
	{types.SectionDiscussion, []string{"discussion", "analysis", "limitation"}},
	{types.SectionConclusion, []string{"conclusion", "summary", "future work"}},
	{types.SectionRelatedWork, []string{"related work", "background", "literature"}},
}

// ClassifySection maps a heading to a SectionType using keyword matching
func ClassifySection(heading string) types.SectionType {
	_, rest := SplitSectionNumber(heading)
	lower := strings.ToLower(rest)
	for _, group := range sectionKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.sectionType
			}
		}
	}
	return types.SectionOther
}

// sectionNames open a section even as the first heading of a document
var sectionNames = map[string]bool{
	"abstract":         true,
	"introduction":     true,
	"background":       true,
	"related work":     true,
	"methods":          true,
	"references":       true,
	"acknowledgments":  true,
	"acknowledgements": true,
}

// StartsSection reports whether a heading names a section rather than the
// paper: it is numbered or is a standard section name
func StartsSection(heading string) bool {
	number, rest := SplitSectionNumber(heading)
	if number != "" {
		return true
	}
	return sectionNames[strings.ToLower(strings.TrimRight(rest, ":"))]
}

// SplitSectionNumber separates a leading dotted numeric prefix from a heading.
// "3.2 Ablation Study" -> ("3.2", "Ablation Study"); "3. Results" -> ("3", "Results").
// Headings without a numeric prefix return an empty number.
func SplitSectionNumber(heading string) (number, rest string) {
	heading = strings.TrimSpace(heading)
	token, remainder, _ := strings.Cut(heading, " ")
	if !isDottedNumber(token) {
		return "", heading
	}
	return strings.TrimSuffix(token, "."), strings.TrimSpace(remainder)
}

// IsSubsection reports whether a heading's dotted numeric prefix has two or
// more components
func IsSubsection(heading string) bool {
	number, _ := SplitSectionNumber(heading)
	if number == "" {
		return false
	}
	return len(strings.Split(number, ".")) >= 2
}

func isDottedNumber(token string) bool {
	token = strings.TrimSuffix(token, ".")
	if token == "" {
		return false
	}
	for _, part := range strings.Split(token, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

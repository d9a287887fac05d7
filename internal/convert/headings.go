package convert

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	maxTitleLen     = 200
	maxHeadingLen   = 80
	maxHeadingWords = 10
	maxTopNumber    = 20
)

// numberedHeading matches "3 Results", "3.2. Ablation Study", "IV. Experiments"
var numberedHeading = regexp.MustCompile(`^((?:\d+)(?:\.\d+)*|[IVX]+)\.?\s+(\S.*)$`)

var namedHeadings = map[string]bool{
	"abstract":         true,
	"introduction":     true,
	"background":       true,
	"related work":     true,
	"method":           true,
	"methods":          true,
	"methodology":      true,
	"approach":         true,
	"experiments":      true,
	"results":          true,
	"evaluation":       true,
	"discussion":       true,
	"limitations":      true,
	"conclusion":       true,
	"conclusions":      true,
	"acknowledgments":  true,
	"acknowledgements": true,
	"references":       true,
	"appendix":         true,
}

// PromoteHeadings prefixes lines that look like section headings with '#'
// marks: one for top level sections, one more per dotted number level.
// When the first non-blank line is body text it becomes the title heading.
// Lines already marked as headings are left alone and leading page breaks
// are kept.
func PromoteHeadings(text string) string {
	lines := strings.Split(text, "\n")
	titled := false
	for i, line := range lines {
		body := strings.TrimLeft(line, "\f")
		breaks := line[:len(line)-len(body)]
		level := headingLevel(line)
		if !titled && strings.TrimSpace(body) != "" {
			titled = true
			if level == 0 && isTitleLine(body) {
				lines[i] = breaks + "# " + strings.TrimSpace(body)
				continue
			}
		}
		if level > 0 {
			lines[i] = breaks + strings.Repeat("#", level) + " " + strings.TrimSpace(body)
		}
	}
	return strings.Join(lines, "\n")
}

// isTitleLine accepts a short line that is not already a heading
func isTitleLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return len([]rune(trimmed)) <= maxTitleLen && !strings.HasPrefix(trimmed, "#")
}

// headingLevel returns 0 when line is body text
func headingLevel(line string) int {
	trimmed := strings.TrimSpace(strings.TrimLeft(line, "\f"))
	if trimmed == "" || len(trimmed) > maxHeadingLen || strings.HasPrefix(trimmed, "#") {
		return 0
	}
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, ",") {
		return 0
	}

	if namedHeadings[strings.ToLower(strings.TrimRight(trimmed, ":"))] {
		return 1
	}

	m := numberedHeading.FindStringSubmatch(trimmed)
	if m == nil {
		return 0
	}
	number, title := m[1], m[2]
	if len(strings.Fields(title)) > maxHeadingWords || !startsUpper(title) {
		return 0
	}
	if number[0] >= '0' && number[0] <= '9' {
		top := number
		if dot := strings.IndexByte(number, '.'); dot >= 0 {
			top = number[:dot]
		}
		if len(top) > 2 || atoi(top) == 0 || atoi(top) > maxTopNumber {
			return 0
		}
	}
	return strings.Count(number, ".") + 1
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

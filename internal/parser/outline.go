package parser

import (
	"fmt"
	"strings"
)

// heading is one captured section of the outline
type heading struct {
	key   string
	title string
	level int
	page  int
	lines []string
}

// outline is the ordered result of scanning a document
type outline struct {
	title    string
	preamble []string // lines between the title and the first section
	headings []heading
}

// scanner is a line-oriented state machine. Headings inside fenced code
// blocks are treated as body text.
type scanner struct {
	out     outline
	current *heading
	seen    map[string]int
	titled  bool
	inFence bool
	page    int
	paged   bool
}

func newScanner(paged bool) *scanner {
	return &scanner{
		seen:  make(map[string]int),
		page:  1,
		paged: paged,
	}
}

// scanOutline splits markdown text into headings and their content lines
func scanOutline(text string) outline {
	s := newScanner(strings.ContainsRune(text, '\f'))
	for _, line := range strings.Split(text, "\n") {
		s.step(line)
	}
	s.flush()
	return s.out
}

func (s *scanner) step(line string) {
	// pdftotext emits a form feed at the start of each new page
	if n := strings.Count(line, "\f"); n > 0 {
		s.page += n
		line = strings.ReplaceAll(line, "\f", "")
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
		s.inFence = !s.inFence
		s.appendLine(line)
		return
	}

	if !s.inFence {
		if level, title, ok := parseHeading(trimmed); ok {
			s.openHeading(level, title)
			return
		}
	}
	s.appendLine(line)
}

func (s *scanner) openHeading(level int, title string) {
	if !s.titled {
		s.titled = true
		if !StartsSection(title) {
			s.out.title = title
			return
		}
	}
	s.flush()

	key := headingKey(title)
	s.seen[key]++
	if n := s.seen[key]; n > 1 {
		key = fmt.Sprintf("%s (%d)", key, n)
	}
	h := heading{key: key, title: title, level: level}
	if s.paged {
		h.page = s.page
	}
	s.current = &h
}

func (s *scanner) appendLine(line string) {
	if s.current != nil {
		s.current.lines = append(s.current.lines, line)
		return
	}
	if s.titled {
		s.out.preamble = append(s.out.preamble, line)
	}
}

func (s *scanner) flush() {
	if s.current == nil {
		return
	}
	s.out.headings = append(s.out.headings, *s.current)
	s.current = nil
}

// parseHeading recognises "#", "##", ... followed by a space and text
func parseHeading(trimmed string) (level int, title string, ok bool) {
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title = cleanHeading(rest)
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

// cleanHeading strips closing hashes and emphasis markers around heading text
func cleanHeading(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "# \t")
	s = strings.Trim(s, "*_ \t")
	return strings.Join(strings.Fields(s), " ")
}

func headingKey(title string) string {
	return strings.ToLower(title)
}

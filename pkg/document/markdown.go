// ABOUTME: Minimal markdown reader and canonical renderer
// ABOUTME: Headings delimit sections, blank lines delimit paragraphs

package document

import (
	"strings"
)

// Parse reads markdown into a Document. The first level-one heading becomes the
// title; every other heading opens a section. Text before the first section
// heading forms an untitled leading section.
func Parse(id, content string) *Document {
	doc := &Document{ID: id}

	cur := -1
	var para []string
	inFence := false

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if text == "" {
			return
		}
		if cur < 0 {
			doc.Sections = append(doc.Sections, Section{})
			cur = len(doc.Sections) - 1
		}
		doc.Sections[cur].Paragraphs = append(doc.Sections[cur].Paragraphs, text)
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			para = append(para, line)
			continue
		}
		if inFence {
			para = append(para, line)
			continue
		}

		if level, heading, ok := parseHeading(trimmed); ok {
			flushPara()
			if level == 1 && doc.Title == "" && len(doc.Sections) == 0 {
				doc.Title = heading
				continue
			}
			doc.Sections = append(doc.Sections, Section{Heading: heading})
			cur = len(doc.Sections) - 1
			continue
		}

		if trimmed == "" {
			flushPara()
			continue
		}
		para = append(para, strings.TrimRight(line, " \t"))
	}
	flushPara()

	return doc
}

func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(strings.TrimRight(line[level:], "#")), true
}

// Render writes a Document back to canonical markdown. Parse(Render(d))
// reproduces d for documents without blank spans.
func Render(d *Document) string {
	var b strings.Builder
	if d.Title != "" {
		b.WriteString("# ")
		b.WriteString(d.Title)
		b.WriteString("\n")
	}
	for _, sec := range d.Sections {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		renderSection(&b, sec)
	}
	return b.String()
}

func renderSection(b *strings.Builder, sec Section) {
	wrote := false
	if sec.Heading != "" {
		b.WriteString("## ")
		b.WriteString(sec.Heading)
		b.WriteString("\n")
		wrote = true
	}
	for _, p := range sec.Paragraphs {
		if IsBlank(p) {
			continue
		}
		if wrote {
			b.WriteString("\n")
		}
		b.WriteString(p)
		b.WriteString("\n")
		wrote = true
	}
}

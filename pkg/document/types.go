// ABOUTME: Document data model for hierarchical markdown documents
// ABOUTME: Defines Document, Section and the Span addressing used by the pipeline

package document

import (
	"strings"
	"time"
)

// Document is one revision of a source document
type Document struct {
	ID          string            // Document identifier
	Revision    string            // Source revision label, informational
	Title       string            // Top-level heading
	Sections    []Section         // Sections in document order
	ContentType string            // Content type hint for analyzer routing
	Metadata    map[string]string // Additional metadata
	UpdatedAt   time.Time         // Time the source produced this revision
}

// Section is a heading followed by its paragraphs
type Section struct {
	Heading    string
	Paragraphs []string
}

// SpanKind identifies which part of a document a span covers
type SpanKind int

const (
	SpanTitle SpanKind = iota
	SpanHeading
	SpanParagraph
)

func (k SpanKind) String() string {
	switch k {
	case SpanTitle:
		return "title"
	case SpanHeading:
		return "heading"
	case SpanParagraph:
		return "paragraph"
	default:
		return "unknown"
	}
}

// SpanKey addresses a span by position; Section and Paragraph are -1 when unused
type SpanKey struct {
	Kind      SpanKind
	Section   int
	Paragraph int
}

// Span is a contiguous piece of text with its position and context
type Span struct {
	Key         SpanKey
	Text        string
	HeadingPath []string // Title and section heading above the span
}

// TitleKey is the key of the document title span
func TitleKey() SpanKey {
	return SpanKey{Kind: SpanTitle, Section: -1, Paragraph: -1}
}

// HeadingKey is the key of a section heading span
func HeadingKey(section int) SpanKey {
	return SpanKey{Kind: SpanHeading, Section: section, Paragraph: -1}
}

// ParagraphKey is the key of a paragraph span
func ParagraphKey(section, paragraph int) SpanKey {
	return SpanKey{Kind: SpanParagraph, Section: section, Paragraph: paragraph}
}

// Spans enumerates every non-blank span in document order
func (d *Document) Spans() []Span {
	var spans []Span
	if !IsBlank(d.Title) {
		spans = append(spans, Span{Key: TitleKey(), Text: d.Title})
	}
	for si, sec := range d.Sections {
		path := d.headingPath(si)
		if !IsBlank(sec.Heading) {
			spans = append(spans, Span{Key: HeadingKey(si), Text: sec.Heading, HeadingPath: path[:len(path)-1]})
		}
		for pi, p := range sec.Paragraphs {
			if IsBlank(p) {
				continue
			}
			spans = append(spans, Span{Key: ParagraphKey(si, pi), Text: p, HeadingPath: path})
		}
	}
	return spans
}

func (d *Document) headingPath(section int) []string {
	path := make([]string, 0, 2)
	if !IsBlank(d.Title) {
		path = append(path, d.Title)
	}
	return append(path, d.Sections[section].Heading)
}

// SectionLayout lists the paragraphs of a section that produce nodes
type SectionLayout struct {
	Index      int
	Paragraphs []int
}

// Layout returns the sections and paragraphs that become hierarchy nodes:
// blank paragraphs are skipped, as are sections with neither heading nor paragraphs.
func (d *Document) Layout() []SectionLayout {
	var out []SectionLayout
	for si, sec := range d.Sections {
		var paras []int
		for pi, p := range sec.Paragraphs {
			if !IsBlank(p) {
				paras = append(paras, pi)
			}
		}
		if IsBlank(sec.Heading) && len(paras) == 0 {
			continue
		}
		out = append(out, SectionLayout{Index: si, Paragraphs: paras})
	}
	return out
}

// SectionText is the heading and paragraphs of one section as rendered text
func (d *Document) SectionText(section int) string {
	var b strings.Builder
	renderSection(&b, d.Sections[section])
	return b.String()
}

// Text renders the whole document in canonical form
func (d *Document) Text() string {
	return Render(d)
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	out := *d
	out.Sections = make([]Section, len(d.Sections))
	for i, s := range d.Sections {
		out.Sections[i] = Section{Heading: s.Heading, Paragraphs: append([]string(nil), s.Paragraphs...)}
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// IsBlank reports whether s is empty or whitespace only
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

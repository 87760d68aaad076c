package change

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// TextDiff is a line-level diff of two renderings
type TextDiff struct {
	OldLines []string
	NewLines []string
	Ops      []difflib.OpCode
}

// DiffText computes line opcodes between old and new
func DiffText(old, new string) *TextDiff {
	a := difflib.SplitLines(old)
	b := difflib.SplitLines(new)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	return &TextDiff{OldLines: a, NewLines: b, Ops: m.GetOpCodes()}
}

// Changed reports whether any opcode is not an equal run
func (d *TextDiff) Changed() bool {
	for _, op := range d.Ops {
		if op.Tag != 'e' {
			return true
		}
	}
	return false
}

// Stat counts inserted and deleted lines
func (d *TextDiff) Stat() (inserted, deleted int) {
	for _, op := range d.Ops {
		switch op.Tag {
		case 'r':
			deleted += op.I2 - op.I1
			inserted += op.J2 - op.J1
		case 'd':
			deleted += op.I2 - op.I1
		case 'i':
			inserted += op.J2 - op.J1
		}
	}
	return inserted, deleted
}

// Unified renders the diff in unified format with the given context lines
func (d *TextDiff) Unified(oldName, newName string, context int) (string, error) {
	m := difflib.NewMatcherWithJunk(d.OldLines, d.NewLines, false, nil)
	var hunks []*diff.Hunk
	for _, group := range m.GetGroupedOpCodes(context) {
		first, last := group[0], group[len(group)-1]
		var body bytes.Buffer
		for _, op := range group {
			switch op.Tag {
			case 'e':
				writeLines(&body, ' ', d.OldLines[op.I1:op.I2])
			case 'r':
				writeLines(&body, '-', d.OldLines[op.I1:op.I2])
				writeLines(&body, '+', d.NewLines[op.J1:op.J2])
			case 'd':
				writeLines(&body, '-', d.OldLines[op.I1:op.I2])
			case 'i':
				writeLines(&body, '+', d.NewLines[op.J1:op.J2])
			}
		}
		hunks = append(hunks, &diff.Hunk{
			OrigStartLine: startLine(first.I1, last.I2),
			OrigLines:     int32(last.I2 - first.I1),
			NewStartLine:  startLine(first.J1, last.J2),
			NewLines:      int32(last.J2 - first.J1),
			Body:          body.Bytes(),
		})
	}
	if len(hunks) == 0 {
		return "", nil
	}
	out, err := diff.PrintFileDiff(&diff.FileDiff{OrigName: oldName, NewName: newName, Hunks: hunks})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func startLine(lo, hi int) int32 {
	if hi == lo {
		return int32(lo)
	}
	return int32(lo + 1)
}

func writeLines(b *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(prefix)
		b.WriteString(l)
		if len(l) == 0 || l[len(l)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
}

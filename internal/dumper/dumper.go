// Package dumper formats recovered Strucs as C header-style definitions
// (§6): mechanical text output only, no analysis decisions. Grounded on the
// teacher's own style of building output through small, direct fmt.Fprintf
// calls (mewmew-x/cmd/x/llir.go's indexFuncs naming convention, e.g.) rather
// than a templating library the pack never uses.
package dumper

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"rstc/internal/restruc"
)

// Dump writes a C header-style definition for each Struc in strucs, in the
// order given (restruc.Restruc.AllStrucs already sorts by name for
// determinism). Field ordering within a Struc is ascending by offset, with
// padding fields for gaps and union braces around fields that share an
// offset — exactly the bullet list in §6.
func Dump(w io.Writer, strucs []*restruc.Struc) error {
	for _, s := range strucs {
		if err := dumpStruc(w, s); err != nil {
			return errors.Wrapf(err, "dumping struct %s", s.Name())
		}
	}
	return nil
}

func dumpStruc(w io.Writer, s *restruc.Struc) error {
	if _, err := fmt.Fprintf(w, "struct %s {\n", s.Name()); err != nil {
		return errors.WithStack(err)
	}
	for _, group := range groupFields(s) {
		if err := dumpGroup(w, group); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "};\n\n"); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// fieldGroup is every field sharing one offset, plus the gap (if any) that
// precedes it. A single-field group renders as a plain member; a
// multi-field group renders as a union.
type fieldGroup struct {
	offset uint64
	gap    uint64
	fields []restruc.Field
}

// groupFields walks s.Fields() (already sorted ascending by offset) and
// buckets consecutive entries at equal offsets together, recording the gap
// since the previous group's end so dumpGroup can emit a padding member.
func groupFields(s *restruc.Struc) []fieldGroup {
	fields := s.Fields()
	offsets := s.FieldOffsets()

	var groups []fieldGroup
	var cursor uint64
	i := 0
	for i < len(fields) {
		off := offsets[i]
		j := i
		for j < len(offsets) && offsets[j] == off {
			j++
		}
		group := fieldGroup{offset: off, fields: fields[i:j]}
		if off > cursor {
			group.gap = off - cursor
		}
		groups = append(groups, group)
		cursor = off + widestEnd(group.fields)
		i = j
	}
	return groups
}

// widestEnd returns the largest byte extent (size * count) among fields,
// the amount the group advances the struct's write cursor by.
func widestEnd(fields []restruc.Field) uint64 {
	var widest uint64
	for _, f := range fields {
		end := uint64(f.Size) * uint64(maxInt(f.Count, 1))
		if end > widest {
			widest = end
		}
	}
	return widest
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func dumpGroup(w io.Writer, g fieldGroup) error {
	if g.gap > 0 {
		if _, err := fmt.Fprintf(w, "\tchar _padding_%04x[0x%x];\n", g.offset-g.gap, g.gap); err != nil {
			return errors.WithStack(err)
		}
	}
	if len(g.fields) == 1 {
		return dumpField(w, "\t", g.offset, "", g.fields[0])
	}
	if _, err := fmt.Fprintf(w, "\tunion {\n"); err != nil {
		return errors.WithStack(err)
	}
	for k, f := range g.fields {
		if err := dumpField(w, "\t\t", g.offset, fmt.Sprintf("_%d", k+1), f); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\t};\n"); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func dumpField(w io.Writer, indent string, offset uint64, suffix string, f restruc.Field) error {
	name := fmt.Sprintf("field_%04x%s", offset, suffix)
	count := maxInt(f.Count, 1)
	if count > 1 {
		_, err := fmt.Fprintf(w, "%s%s %s[%d];\n", indent, f.CTypeName(), name, count)
		return errors.WithStack(err)
	}
	_, err := fmt.Fprintf(w, "%s%s %s;\n", indent, f.CTypeName(), name)
	return errors.WithStack(err)
}

package stagecount

import (
	"fmt"
	"io"
	"strings"
)

// Render writes the operator-facing comparison table. Tables with nothing to
// report are omitted.
func (r Report) Render(w io.Writer) error {
	var rows []Stage
	for _, s := range r.Stages {
		if !s.empty() {
			rows = append(rows, s)
		}
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "  No records.")
		return err
	}

	var b strings.Builder
	b.WriteString("\n  Stage Comparison:\n")
	fmt.Fprintf(&b, "    %-18s %6s %6s %6s %6s %6s  %s\n", "Table", "Raw", "Drop", "Map", "Merge", "Load", "Diff")
	fmt.Fprintf(&b, "    %s %s %s %s %s %s  %s\n",
		strings.Repeat("-", 18), strings.Repeat("-", 6), strings.Repeat("-", 6),
		strings.Repeat("-", 6), strings.Repeat("-", 6), strings.Repeat("-", 6), strings.Repeat("-", 14))
	for _, s := range rows {
		merged := "-"
		if s.Merges {
			merged = fmt.Sprint(s.Merged)
		}
		line := fmt.Sprintf("    %-18s %6d %6d %6d %6s %6d  %s", s.Table, s.Raw, s.Dropped, s.Mapped, merged, s.Loaded, diffText(s.Diff))
		if len(s.Flags) > 0 {
			names := make([]string, len(s.Flags))
			for i, f := range s.Flags {
				names[i] = string(f)
			}
			line += " (" + strings.Join(names, ", ") + ")"
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}

	t := r.Totals()
	if t.New == 0 && t.Removed == 0 {
		b.WriteString("\n  No changes\n")
	} else {
		fmt.Fprintf(&b, "\n  %d new, %d existing, %d removed\n", t.New, t.Existing, t.Removed)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func diffText(d Diff) string {
	var parts []string
	if d.New > 0 {
		parts = append(parts, fmt.Sprintf("+%d", d.New))
	}
	if d.Existing > 0 {
		parts = append(parts, fmt.Sprintf("=%d", d.Existing))
	}
	if d.Removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d", d.Removed))
	}
	return strings.Join(parts, " ")
}

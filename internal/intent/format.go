package intent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	runewidth "github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/superbrain/internal/tools"
)

const (
	previewRows  = 10
	previewWidth = 30
)

// formatResult renders a tool result for the user: named text keys first,
// then a tabular preview for row-shaped data, then pretty JSON.
func formatResult(res *tools.Result) string {
	if text := res.Text(); text != "" {
		return text
	}
	if res.Data != nil {
		if rows := rowsFromData(res.Data); len(rows) > 0 {
			return renderTable(rows)
		}
		if pretty, err := json.MarshalIndent(res.Data, "", "  "); err == nil {
			return string(pretty)
		}
	}
	return ""
}

// rowsFromData pulls a []map slice out of the common collection keys.
func rowsFromData(data map[string]any) []map[string]any {
	for _, key := range []string{"rows", "results", "items"} {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch vv := v.(type) {
		case []map[string]any:
			return vv
		case []any:
			rows := make([]map[string]any, 0, len(vv))
			for _, item := range vv {
				if m, ok := item.(map[string]any); ok {
					rows = append(rows, m)
				}
			}
			if len(rows) == len(vv) && len(rows) > 0 {
				return rows
			}
		}
	}
	return nil
}

// renderTable builds a monospace preview, column widths computed with
// display width so CJK content stays aligned.
func renderTable(rows []map[string]any) string {
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	limit := len(rows)
	truncated := false
	if limit > previewRows {
		limit = previewRows
		truncated = true
	}

	cells := make([][]string, 0, limit+1)
	cells = append(cells, cols)
	for _, row := range rows[:limit] {
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = runewidth.Truncate(cellString(row[c]), previewWidth, "…")
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(cols))
	for _, line := range cells {
		for i, cell := range line {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for r, line := range cells {
		for i, cell := range line {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		sb.WriteString("\n")
		if r == 0 {
			for i, w := range widths {
				if i > 0 {
					sb.WriteString("  ")
				}
				sb.WriteString(strings.Repeat("-", w))
			}
			sb.WriteString("\n")
		}
	}
	if truncated {
		fmt.Fprintf(&sb, "... %d more rows\n", len(rows)-limit)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func cellString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%g", vv)
	default:
		return fmt.Sprintf("%v", vv)
	}
}

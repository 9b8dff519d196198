package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"sigs.k8s.io/yaml"

	"github.com/pthm/sqlguard"
)

// Output formats for query results.
const (
	FormatYAML  = "yaml"
	FormatJSON  = "json"
	FormatTable = "table"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

// WriteResult writes res in the given format. Statements without a result
// set print their command tag and row count instead.
func WriteResult(w io.Writer, format string, res *sqlguard.Result) error {
	if len(res.Fields) == 0 {
		_, err := fmt.Fprintf(w, "%s %d\n", strings.TrimSpace(res.Command), res.RowCount)
		return err
	}

	switch format {
	case "", FormatYAML:
		out, err := yaml.Marshal(rowMaps(res.Rows))
		if err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rowMaps(res.Rows))
	case FormatTable:
		_, err := fmt.Fprintln(w, renderTable(res))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func rowMaps(rows []sqlguard.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Map()
	}
	return out
}

func renderTable(res *sqlguard.Result) string {
	headers := make([]string, len(res.Fields))
	for i, f := range res.Fields {
		headers[i] = f.Name
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range res.Rows {
		cells := make([]string, r.Len())
		for i, v := range r.Values() {
			cells[i] = formatCell(v)
		}
		t.Row(cells...)
	}
	return t.String()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("\\x%x", v)
	default:
		return fmt.Sprint(v)
	}
}

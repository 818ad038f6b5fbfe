package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Tabular is implemented by views that render as one or more tables.
type Tabular interface {
	Tables() []table.Writer
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Render renders v in the requested format. Views that are not Tabular
// fall back to JSON.
func Render(format Format, v any) (string, error) {
	tabular, ok := v.(Tabular)
	if format == FormatJSON || !ok {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	}

	var rendered []string
	for _, t := range tabular.Tables() {
		if t == nil || t.Length() == 0 {
			continue
		}
		if format == FormatMarkdown {
			rendered = append(rendered, t.RenderMarkdown())
		} else {
			rendered = append(rendered, t.Render())
		}
	}
	return strings.Join(rendered, "\n\n"), nil
}

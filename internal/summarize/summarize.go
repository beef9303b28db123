package summarize

import (
	"encoding/json"
	"fmt"

	"github.com/DegrassiAaron/mcpcode/internal/util"
)

// DefaultMaxUnits bounds summary size, approximated as characters.
const DefaultMaxUnits = 2000

// DefaultHeadTail is how many leading and trailing elements a digest keeps.
const DefaultHeadTail = 5

// Options controls one summarization.
type Options struct {
	MaxUnits   int
	HeadTail   int
	StatFields []string
}

// FieldStats carries the light statistics a caller requested for one field.
// Sum is null when no element holds a numeric value for the field.
type FieldStats struct {
	Sum      *float64 `json:"sum"`
	Count    int      `json:"count"`
	Distinct int      `json:"distinct"`
}

type digest struct {
	Truncated  bool                  `json:"truncated"`
	TotalBytes int                   `json:"total_bytes"`
	Total      *int                  `json:"total,omitempty"`
	First      []any                 `json:"first,omitempty"`
	Last       []any                 `json:"last,omitempty"`
	Stats      map[string]FieldStats `json:"stats,omitempty"`
	Preview    string                `json:"preview,omitempty"`
}

// Summarize bounds a decoded result value to MaxUnits of text. Values that
// serialize under the bound return verbatim; larger values return a digest
// with counts, head/tail elements, and requested statistics. Pure function;
// never executes further code.
func Summarize(value any, opts Options) string {
	if opts.MaxUnits <= 0 {
		opts.MaxUnits = DefaultMaxUnits
	}
	if opts.HeadTail <= 0 {
		opts.HeadTail = DefaultHeadTail
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf(`{"error":"unserializable result: %v"}`, err)
	}
	if len(raw) <= opts.MaxUnits {
		return string(raw)
	}

	d := digest{Truncated: true, TotalBytes: len(raw)}
	elements, iterable := value.([]any)
	if iterable {
		total := len(elements)
		d.Total = &total
		d.Stats = fieldStats(elements, opts.StatFields)
	}

	for k := opts.HeadTail; k >= 0; k-- {
		if iterable {
			d.First = head(elements, k)
			d.Last = tail(elements, k)
		} else if k > 0 {
			preview, _ := util.TruncateBytes(string(raw), opts.MaxUnits/2)
			d.Preview = preview
		} else {
			d.Preview = ""
		}
		out, err := json.Marshal(d)
		if err != nil {
			continue
		}
		if len(out) <= opts.MaxUnits {
			return string(out)
		}
	}
	// Even the bare digest overflows; fall back to a hard cut of the record.
	out, _ := json.Marshal(digest{Truncated: true, TotalBytes: len(raw)})
	cut, _ := util.TruncateBytes(string(out), opts.MaxUnits)
	return cut
}

func head(elements []any, k int) []any {
	if k > len(elements) {
		k = len(elements)
	}
	return elements[:k]
}

func tail(elements []any, k int) []any {
	if k > len(elements) {
		k = len(elements)
	}
	return elements[len(elements)-k:]
}

func fieldStats(elements []any, fields []string) map[string]FieldStats {
	if len(fields) == 0 {
		return nil
	}
	stats := make(map[string]FieldStats, len(fields))
	for _, field := range fields {
		var fs FieldStats
		distinct := map[string]bool{}
		for _, el := range elements {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			v, ok := obj[field]
			if !ok || v == nil {
				continue
			}
			fs.Count++
			distinct[fmt.Sprintf("%v", v)] = true
			if n, ok := v.(float64); ok {
				if fs.Sum == nil {
					fs.Sum = new(float64)
				}
				*fs.Sum += n
			}
		}
		fs.Distinct = len(distinct)
		stats[field] = fs
	}
	return stats
}

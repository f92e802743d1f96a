package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func parseRef(s string) (types.Ref, error) {
	ref, err := types.ParseRef(s)
	if err != nil {
		return types.Ref{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	return ref, nil
}

// parseFields turns key=value arguments into an entity field map. Integer
// and plain decimal values are stored as numbers, "null" clears
// the field, and a double-quoted value is always kept as text.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", errUsage, arg)
		}
		fields[key] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	if raw == "null" {
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if decimal.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// decimal matches plain decimal literals. Spellings such as "inf", "NaN"
// or hex floats stay text.
var decimal = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

// label returns the entity's display name.
func label(e types.Entity) string {
	n, err := graph.Lookup(e.Kind)
	if err != nil {
		return ""
	}
	return e.Text(n.Label)
}

// ago renders t relative to now ("3 hours ago").
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// plural renders "1 entity" or "3 entities".
func plural(n int, singular, many string) string {
	if n == 1 {
		return "1 " + singular
	}
	return humanize.Comma(int64(n)) + " " + many
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		return v
	case int64:
		return humanize.Comma(v)
	default:
		return fmt.Sprint(v)
	}
}

package remote

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/types"
)

// DateColumns hold calendar dates: DD.MM.YYYY locally, YYYY-MM-DD remotely.
var DateColumns = map[string]bool{
	"date": true,
}

// TimestampColumns hold ISO-8601 instants.
var TimestampColumns = map[string]bool{
	schema.LastUpdated: true,
	"created_at":       true,
	"updated_at":       true,
	"generated_at":     true,
	"executed_at":      true,
	"date_updated":     true,
	"last_extracted":   true,
}

var nullTokens = map[string]bool{
	"":     true,
	"N/A":  true,
	"None": true,
	"none": true,
	"nan":  true,
	"NaN":  true,
	"null": true,
	"NULL": true,
}

// IsNull reports whether a local value stands for null.
func IsNull(v string) bool {
	return nullTokens[strings.TrimSpace(v)]
}

var (
	localDate  = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{2}|\d{4})$`)
	remoteDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	yearPrefix = regexp.MustCompile(`^\d{4}`)
)

// RemoteColumn maps a local column name to a name legal in the remote
// schema. Dots become underscores, so over_2.5 travels as over_2_5.
func RemoteColumn(col string) string {
	return strings.ReplaceAll(col, ".", "_")
}

// LocalColumn reverses RemoteColumn using the table's declared columns.
// Names without a declared alias pass through unchanged.
func LocalColumn(t schema.Table, col string) string {
	for _, c := range t.Columns {
		if c != col && RemoteColumn(c) == col {
			return c
		}
	}
	return col
}

// ToRemoteDate rewrites DD.MM.YYYY and DD.MM.YY as YYYY-MM-DD. Two-digit
// years are read as 20YY. Other values are returned unchanged.
func ToRemoteDate(v string) string {
	m := localDate.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return v
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return year + "-" + m[2] + "-" + m[1]
}

// ToLocalDate rewrites YYYY-MM-DD as DD.MM.YYYY. Other values, including
// full timestamps, are returned unchanged.
func ToLocalDate(v string) string {
	if !remoteDate.MatchString(v) {
		return v
	}
	return v[8:10] + "." + v[5:7] + "." + v[0:4]
}

// Outbound converts a local record into a remote row: null tokens become
// nil, aliased names are applied, dates are reformatted, key values are
// trimmed, missing or invalid timestamps are replaced with now and
// undeclared columns are dropped.
func Outbound(t schema.Table, rec types.Record, now time.Time) Row {
	allowed := t.Whitelist()
	keys := make(map[string]bool)
	for _, f := range t.KeyFields() {
		keys[f] = true
	}
	out := make(Row, len(rec)+1)

	for col, v := range rec {
		if _, ok := allowed[col]; !ok {
			continue
		}
		name := RemoteColumn(col)
		switch {
		case IsNull(v):
			out[name] = nil
		case keys[col]:
			out[name] = strings.TrimSpace(v)
		case DateColumns[col]:
			out[name] = ToRemoteDate(strings.TrimSpace(v))
		case TimestampColumns[col] && !yearPrefix.MatchString(strings.TrimSpace(v)):
			out[name] = types.FormatTimestamp(now)
		default:
			out[name] = v
		}
	}

	stamp := types.FormatTimestamp(now)
	for _, col := range t.Columns {
		if _, ok := rec[col]; !ok && TimestampColumns[col] {
			out[RemoteColumn(col)] = stamp
		}
	}
	if v, ok := out[schema.LastUpdated]; !ok || v == nil {
		out[schema.LastUpdated] = stamp
	}
	return out
}

// Inbound converts a remote row into a local record: nil becomes "",
// booleans become "true"/"false", structured values become compact JSON,
// and aliased names are translated back.
func Inbound(t schema.Table, row Row) types.Record {
	rec := make(types.Record, len(row))
	for name, v := range row {
		col := LocalColumn(t, name)
		s := Stringify(v, DateColumns[col])
		if DateColumns[col] {
			s = ToLocalDate(s)
		}
		rec[col] = s
	}
	return rec
}

// Stringify renders a remote value as a local string. dateOnly selects
// YYYY-MM-DD rendering for time values.
func Stringify(v any, dateOnly bool) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case time.Time:
		if dateOnly {
			return x.Format("2006-01-02")
		}
		return types.FormatTimestamp(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// KeyOf returns the comma-joined conflict key of a remote row. Parts are
// trimmed the way local keys are.
func KeyOf(t schema.Table, row Row) string {
	fields := t.KeyFields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.TrimSpace(Stringify(row[RemoteColumn(f)], false))
		if parts[i] == "" {
			return ""
		}
	}
	return strings.Join(parts, ",")
}

// Dedupe collapses rows sharing a conflict key. The last occurrence wins
// and keeps the position of the first. Rows without a key are dropped.
func Dedupe(t schema.Table, rows []Row) []Row {
	index := make(map[string]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		k := KeyOf(t, r)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// Chunk splits items into consecutive batches of at most size.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// Columns returns the sorted union of column names across rows.
func Columns(rows []Row) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

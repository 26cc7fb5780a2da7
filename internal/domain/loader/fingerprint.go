package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/chartfold/internal/domain/stagecount"
	"github.com/ehr/chartfold/internal/platform/db"
)

const fieldSep = "\x1f"

// fingerprint renders the content columns of one row. Values read back from
// either driver render the same as the values that were written.
func fingerprint(values []any, idx []int) string {
	var b strings.Builder
	for n, i := range idx {
		if n > 0 {
			b.WriteString(fieldSep)
		}
		switch v := values[i].(type) {
		case nil:
			b.WriteString("\x00")
		case bool:
			if v {
				b.WriteString("1")
			} else {
				b.WriteString("0")
			}
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case int:
			b.WriteString(strconv.Itoa(v))
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		case []byte:
			b.Write(v)
		case string:
			b.WriteString(v)
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// existingRows fingerprints every row the source holds in ts.table.
func existingRows(ctx context.Context, q queryable, d db.Dialect, ts tableSpec, source string) (map[string]int, error) {
	query := d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE source = ?", strings.Join(ts.columns, ", "), ts.table))
	rows, err := q.QueryContext(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", ts.table, err)
	}
	defer rows.Close()

	idx := ts.fingerprinted()
	out := make(map[string]int)
	values := make([]any, len(ts.columns))
	ptrs := make([]any, len(ts.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("loader: scan %s: %w", ts.table, err)
		}
		out[fingerprint(values, idx)]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loader: iterate %s: %w", ts.table, err)
	}
	return out, nil
}

// diffRows matches incoming rows against the stored multiset. Each stored
// row is matched at most once, so a duplicated row counts as new when the
// store held only one copy.
func diffRows(existing map[string]int, incoming []string) stagecount.Diff {
	left := make(map[string]int, len(existing))
	for k, v := range existing {
		left[k] = v
	}
	var d stagecount.Diff
	for _, fp := range incoming {
		if left[fp] > 0 {
			left[fp]--
			d.Existing++
			continue
		}
		d.New++
	}
	for _, n := range left {
		d.Removed += n
	}
	return d
}

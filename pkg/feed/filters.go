package feed

import (
	"fmt"
	"sort"
	"strings"
)

// FilterSet is an opaque filter descriptor. The engine never interprets the
// entries; it only derives a deterministic comparison key from them, so two
// filter sets with the same entries are treated as the same filter regardless
// of construction order.
type FilterSet map[string]string

// Key generates a deterministic string key for the filter set.
// Format: filter1=val1:filter2=val2 with keys sorted. Empty set yields "".
func (f FilterSet) Key() string {
	if len(f) == 0 {
		return ""
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, f[k]))
	}

	return strings.Join(parts, ":")
}

// Equal reports whether two filter sets describe the same filter.
func (f FilterSet) Equal(other FilterSet) bool {
	return f.Key() == other.Key()
}

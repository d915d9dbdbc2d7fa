package sync

import (
	"sort"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/schema"
)

// FilterFields intersects a payload with the table schema. Nil values and keys
// the schema does not recognize are dropped rather than sent, because the
// remote store rejects whole batches over a single unknown column. The dropped
// list is sorted so logs stay diffable.
func FilterFields(fields map[string]any, s *schema.TableSchema) (map[string]any, []string) {
	clean := make(map[string]any, len(fields))
	var dropped []string

	for key, value := range fields {
		if value == nil {
			dropped = append(dropped, key)
			continue
		}
		if !s.Allows(key) {
			dropped = append(dropped, key)
			continue
		}
		clean[key] = value
	}

	sort.Strings(dropped)
	return clean, dropped
}

package store

import (
	"fmt"
	"sync"
)

const (
	projectPrefix    = "project:"
	itemPrefix       = "item:"
	traitPrefix      = "trait:"
	traitCountPrefix = "traitcount:"
)

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// buildKey joins prefix, project and suffix into a pooled key buffer.
// Callers MUST call releaseKey when done with the key.
func buildKey(prefix, project, suffix string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, project...)
	buf = append(buf, ':')
	buf = append(buf, suffix...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}

// itemSuffix zero-pads ids so keys iterate in numeric order.
func itemSuffix(id int) string {
	return fmt.Sprintf("%012d", id)
}

// projectScope is the key prefix of every record of one project under prefix.
func projectScope(prefix, project string) []byte {
	return []byte(prefix + project + ":")
}

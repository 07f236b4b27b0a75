package ingest

import (
	"sort"
	"strconv"
	"strings"
)

// sortByTrailingIndex sorts "<tagName>_<index>" keys by their numeric suffix
// so fragment order matches appearance order regardless of digit count.
func sortByTrailingIndex(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return trailingIndex(keys[i]) < trailingIndex(keys[j])
	})
}

func trailingIndex(key string) int {
	idx := strings.LastIndex(key, "_")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

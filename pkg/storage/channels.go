package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeChannels renders a channel restriction as a comma separated column value.
func EncodeChannels(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// DecodeChannels parses the column value written by EncodeChannels.
func DecodeChannels(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode channel id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package journal

import (
	"fmt"
	"strconv"
)

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q in journal: %w", s, err)
	}
	return v, nil
}

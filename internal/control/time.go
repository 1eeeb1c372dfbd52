package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FormatTime renders seconds as HH:MM:SS. Negative input is treated as zero.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseTime reads H+:MM:SS[.fraction] into whole seconds.
func ParseTime(v string) (int, error) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, errors.Errorf("invalid time %q", v)
	}
	if i := strings.IndexAny(parts[2], ".,"); i >= 0 {
		parts[2] = parts[2][:i]
	}

	var total int
	for i, mult := range []int{3600, 60, 1} {
		n, err := strconv.Atoi(strings.TrimPrefix(parts[i], "+"))
		if err != nil || n < 0 {
			return 0, errors.Errorf("invalid time %q", v)
		}
		total += n * mult
	}
	return total, nil
}

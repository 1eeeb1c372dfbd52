package mediaserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidRange = errors.New("invalid range")
	errMultiRange   = errors.New("multi-range not supported")
)

// byteRange is an inclusive [Start, End] span.
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) Length() int64 {
	return r.End - r.Start + 1
}

// parseRange parses a single-span "Range" header against a resource of the
// given size. An omitted end resolves to size-1; an end past the resource is
// clamped.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, errInvalidRange
	}

	rangeSet := strings.TrimPrefix(header, prefix)
	if strings.Contains(rangeSet, ",") {
		return byteRange{}, errMultiRange
	}

	parts := strings.SplitN(rangeSet, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, errInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	var r byteRange
	if startStr == "" {
		// bytes=-N, the last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 || size <= 0 {
			return byteRange{}, errInvalidRange
		}
		if n > size {
			n = size
		}
		r.Start = size - n
		r.End = size - 1
		return r, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errInvalidRange
	}
	r.Start = start

	if endStr == "" {
		r.End = size - 1
		return r, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return byteRange{}, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	r.End = end
	return r, nil
}

func contentRange(r byteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

func unsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

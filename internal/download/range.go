package download

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange reports a syntactically invalid Range header value
var ErrInvalidRange = fmt.Errorf("invalid range header")

// ByteRange is an inclusive byte window within an object
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window
func (r *ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a "bytes=<start>-[<end>]" header against the
// object's total size. An empty start means 0; an empty or overlong
// end clamps to the last byte. Garbage and out-of-bounds starts are
// rejected; multi-range requests are not supported.
func ParseRange(header string, totalSize int64) (*ByteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if strings.Contains(spec, ",") {
		return nil, ErrInvalidRange
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return nil, ErrInvalidRange
	}

	var start int64
	if startStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
		if err != nil || v < 0 {
			return nil, ErrInvalidRange
		}
		start = v
	}

	end := totalSize - 1
	if endStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || v < 0 {
			return nil, ErrInvalidRange
		}
		// clamp, do not error, when the requested end overshoots
		if v < end {
			end = v
		}
	}

	if start >= totalSize || start > end {
		return nil, ErrInvalidRange
	}

	return &ByteRange{Start: start, End: end}, nil
}

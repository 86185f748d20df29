package provider

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPattern = errors.New("invalid coordinate pattern")

// CoordinatePart renders the provider specific part of a tile url. It must
// be a pure function of its arguments.
type CoordinatePart func(x, y, zoom int) string

// PathStyle renders "z/x/y".
func PathStyle(x, y, zoom int) string {
	return strconv.Itoa(zoom) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y)
}

// QueryStyle renders "&x=..&y=..&z=..", appended to a base url that already
// carries a query string.
func QueryStyle(x, y, zoom int) string {
	return fmt.Sprintf("&x=%d&y=%d&z=%d", x, y, zoom)
}

// QuadKey encodes x and y one bit per level, walking from zoom down to
// minZoom. The digit for each level is 0..3 with bit 0 taken from x and
// bit 1 from y; the most significant level comes first.
func QuadKey(minZoom int) CoordinatePart {
	return func(x, y, zoom int) string {
		if zoom < minZoom {
			return ""
		}

		key := make([]byte, zoom-minZoom+1)
		for i := len(key) - 1; i >= 0; i-- {
			digit := byte('0')
			if x%2 != 0 {
				digit++
			}
			if y%2 != 0 {
				digit += 2
			}
			key[i] = digit
			x /= 2
			y /= 2
		}
		return string(key)
	}
}

// Template builds a CoordinatePart from a pattern holding {x}, {y} and {z}
// placeholders, e.g. "{z}/{x}/{y}".
func Template(pattern string) (CoordinatePart, error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	return func(x, y, zoom int) string {
		result := pattern
		result = strings.ReplaceAll(result, "{x}", strconv.Itoa(x))
		result = strings.ReplaceAll(result, "{y}", strconv.Itoa(y))
		result = strings.ReplaceAll(result, "{z}", strconv.Itoa(zoom))
		return result
	}, nil
}

func validatePattern(pattern string) error {
	for _, p := range []string{"{x}", "{y}", "{z}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

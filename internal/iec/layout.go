package iec

import (
	"regexp"
	"strconv"
	"strings"
)

// bitWidths maps elementary and fieldbus type names to their width in bits.
// BIT/BITn come from EtherCAT PDO entries, the rest are IEC types.
var bitWidths = map[string]int{
	"BIT": 1, "BIT2": 2, "BIT3": 3, "BIT4": 4, "BIT5": 5, "BIT6": 6, "BIT7": 7, "BIT8": 8,
	"BITARR8": 8, "BITARR16": 16, "BITARR32": 32,
	"BOOL": 1,
	"BYTE": 8, "SINT": 8, "USINT": 8,
	"WORD": 16, "INT": 16, "UINT": 16,
	"DWORD": 32, "DINT": 32, "UDINT": 32, "REAL": 32,
	"TIME": 32, "DATE": 32, "TOD": 32, "DT": 32, "TIME_OF_DAY": 32, "DATE_AND_TIME": 32,
	"LWORD": 64, "LINT": 64, "ULINT": 64, "LREAL": 64, "LTIME": 64,
}

// busTypes are the bus-only names that have to be declared with an IEC type.
var busTypes = map[string]string{
	"BIT":      "BOOL",
	"BITARR8":  "BYTE",
	"BITARR16": "WORD",
	"BITARR32": "DWORD",
}

var (
	reByteArray = regexp.MustCompile(`(?i)^\s*ARRAY\s*\[\s*(-?\d+)\s*\.\.\s*(-?\d+)\s*\]\s*OF\s+BYTE\s*$`)
	reArray     = regexp.MustCompile(`(?i)^\s*ARRAY\s*\[\s*(-?\d+)\s*\.\.\s*(-?\d+)\s*\]\s*OF\s+(.+?)\s*$`)
	reString    = regexp.MustCompile(`(?i)^\s*W?STRING\s*\(\s*(\d+)\s*\)\s*$`)
)

// BitWidth returns the width of an elementary type.
func BitWidth(typ string) (int, bool) {
	w, ok := bitWidths[strings.ToUpper(strings.TrimSpace(typ))]
	return w, ok
}

// ByteArrayLen recognises ARRAY[a..b] OF BYTE and returns b-a+1. Reversed
// bounds are reported as not an array.
func ByteArrayLen(typ string) (int, bool) {
	m := reByteArray.FindStringSubmatch(typ)
	if m == nil {
		return 0, false
	}
	return span(m[1], m[2])
}

// ByteSize returns the number of process-image bytes occupied by typ.
// Elementary types round up to whole bytes, arrays multiply their element
// size and STRING(n) carries its terminator.
func ByteSize(typ string) (int, bool) {
	if w, ok := BitWidth(typ); ok {
		return (w + 7) / 8, true
	}
	if m := reArray.FindStringSubmatch(typ); m != nil {
		n, ok := span(m[1], m[2])
		if !ok {
			return 0, false
		}
		elem, ok := ByteSize(m[3])
		if !ok {
			return 0, false
		}
		return n * elem, true
	}
	if m := reString.FindStringSubmatch(typ); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(typ)), "W") {
			return 2 * (n + 1), true
		}
		return n + 1, true
	}
	return 0, false
}

// ArrayBounds splits ARRAY[lo..hi] OF elem. Reversed bounds are reported as
// not an array.
func ArrayBounds(typ string) (lo, hi int, elem string, ok bool) {
	m := reArray.FindStringSubmatch(typ)
	if m == nil {
		return 0, 0, "", false
	}
	n, ok := span(m[1], m[2])
	if !ok {
		return 0, 0, "", false
	}
	lo, _ = strconv.Atoi(m[1])
	return lo, lo + n - 1, m[3], true
}

// BitSize returns the process-image width of typ in bits. Elementary types
// keep their exact width, so bit-packed channels can be summed before
// rounding; composite types occupy whole bytes.
func BitSize(typ string) (int, bool) {
	if w, ok := BitWidth(typ); ok {
		return w, true
	}
	n, ok := ByteSize(typ)
	return n * 8, ok
}

// NormalizeType maps bus-only type names to the IEC type they are declared
// with and tidies whitespace. Unknown names pass through unchanged.
func NormalizeType(typ string) string {
	t := strings.Join(strings.Fields(typ), " ")
	if iecType, ok := busTypes[strings.ToUpper(t)]; ok {
		return iecType
	}
	return t
}

func span(lo, hi string) (int, bool) {
	a, err := strconv.Atoi(lo)
	if err != nil {
		return 0, false
	}
	b, err := strconv.Atoi(hi)
	if err != nil {
		return 0, false
	}
	if b < a {
		return 0, false
	}
	return b - a + 1, true
}

// Package iec knows the small pieces of IEC 61131-3 needed to lay out
// process data: address-shaped symbol names and the sizes of elementary and
// array types.
package iec

import (
	"strconv"
	"strings"
)

// Address is a direct process-image address such as I12 or Q7.
type Address struct {
	Dir    byte // 'I' or 'Q'
	Offset int
}

// String renders the address back into its symbol form.
func (a Address) String() string {
	return string(a.Dir) + strconv.Itoa(a.Offset)
}

// Add returns the address n bytes further on in the same area.
func (a Address) Add(n int) Address {
	return Address{Dir: a.Dir, Offset: a.Offset + n}
}

// ParseAddress reports whether name is exactly one of I or Q followed by one
// or more decimal digits. Anything else, including offsets that overflow an
// int, is not an address.
func ParseAddress(name string) (Address, bool) {
	if len(name) < 2 {
		return Address{}, false
	}
	dir := name[0]
	if dir != 'I' && dir != 'Q' {
		return Address{}, false
	}
	digits := name[1:]
	if strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return Address{}, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return Address{}, false
	}
	return Address{Dir: dir, Offset: n}, true
}

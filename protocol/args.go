package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned when a command argument is missing or not a number.
	ErrSyntax = errors.New("syntax error")

	// ErrRange is returned when a command argument is outside its allowed range.
	ErrRange = errors.New("argument out of range")
)

// Forever is the reserved "wait forever" value which delays and timeouts
// must not use.
const Forever = math.MaxUint32

// Opt is an optional numeric argument.
type Opt struct {
	Value uint32
	Valid bool
}

// Or returns the value, or def when the argument was not given.
func (o Opt) Or(def uint32) uint32 {
	if o.Valid {
		return o.Value
	}
	return def
}

// Some returns a present optional argument.
func Some(v uint32) Opt {
	return Opt{Value: v, Valid: true}
}

// Args scans the comma separated argument list of a command.
//
// The scanner sits on the current field. The first field starts right after
// the verb; Next moves to the field after the next comma. Blanks after the
// verb and after each comma are skipped. Numbers are read like scanf: leading
// digits are taken and anything after them up to the next comma is ignored.
type Args struct {
	rest string
}

// NewArgs positions a scanner on the first field after verb.
func NewArgs(cmd, verb string) *Args {
	rest := strings.TrimPrefix(cmd, verb)
	return &Args{rest: strings.TrimLeft(rest, " ")}
}

// Next moves to the field after the next comma. It reports false when there
// are no more fields.
func (a *Args) Next() bool {
	i := strings.IndexByte(a.rest, ',')
	if i < 0 {
		return false
	}
	a.rest = strings.TrimLeft(a.rest[i+1:], " ")
	return true
}

// Uint reads the current field as an unsigned decimal number.
func (a *Args) Uint() (uint32, error) {
	return scanNumber(a.rest, 10)
}

// Hex reads the current field as a hexadecimal number, with or without 0x.
func (a *Args) Hex() (uint32, error) {
	s := a.rest
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return scanNumber(s, 16)
}

// NextUint moves to the next field and reads it as a required decimal.
func (a *Args) NextUint() (uint32, error) {
	if !a.Next() {
		return 0, fmt.Errorf("%w: missing argument", ErrSyntax)
	}
	return a.Uint()
}

// OptUint reads an optional decimal field. A missing field is not an error,
// a present field that does not parse is.
func (a *Args) OptUint() (Opt, error) {
	if !a.Next() {
		return Opt{}, nil
	}
	v, err := a.Uint()
	if err != nil {
		return Opt{}, err
	}
	return Some(v), nil
}

// OptHex reads an optional hexadecimal field.
func (a *Args) OptHex() (Opt, error) {
	if !a.Next() {
		return Opt{}, nil
	}
	v, err := a.Hex()
	if err != nil {
		return Opt{}, err
	}
	return Some(v), nil
}

// OptDelay reads an optional millisecond value which must not be Forever.
func (a *Args) OptDelay() (Opt, error) {
	o, err := a.OptUint()
	if err != nil {
		return Opt{}, err
	}
	if o.Valid && o.Value == Forever {
		return Opt{}, fmt.Errorf("%w: %d ms", ErrRange, o.Value)
	}
	return o, nil
}

func scanNumber(s string, base int) (uint32, error) {
	n := 0
	for n < len(s) && isDigit(s[n], base) {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: expected number at %q", ErrSyntax, s)
	}
	v, err := strconv.ParseUint(s[:n], base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrRange, s[:n])
	}
	return uint32(v), nil
}

func isDigit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16 && c >= 'a' && c <= 'f':
		return true
	case base == 16 && c >= 'A' && c <= 'F':
		return true
	}
	return false
}

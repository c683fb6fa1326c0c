package domain

import "strings"

// UserSuffix is appended to raw phone numbers to build a session address.
const UserSuffix = "@c.us"

// AddressKind tells how a destination was supplied by the caller.
type AddressKind int

const (
	// RawNumber is a phone number; only its digits are kept.
	RawNumber AddressKind = iota
	// Qualified is an address that already carries a server part (x@y).
	Qualified
)

func (k AddressKind) String() string {
	switch k {
	case RawNumber:
		return "raw"
	case Qualified:
		return "qualified"
	default:
		return "unknown"
	}
}

// Address is a send destination resolved at the HTTP boundary.
type Address struct {
	Kind  AddressKind
	Value string
}

// ParseAddress classifies s. Anything containing '@' is taken verbatim,
// everything else is reduced to its digits.
func ParseAddress(s string) Address {
	if strings.Contains(s, "@") {
		return Address{Kind: Qualified, Value: s}
	}
	return Address{Kind: RawNumber, Value: digitsOnly(s)}
}

// String returns the fully qualified form of the address.
func (a Address) String() string {
	if a.Kind == Qualified {
		return a.Value
	}
	return a.Value + UserSuffix
}

func digitsOnly(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

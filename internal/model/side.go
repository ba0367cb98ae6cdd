package model

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether s is LONG or SHORT.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side. Invalid sides map to themselves.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return s
}

package stream

import "fmt"

// PriorityTier is a named stream priority level, mapped by each platform to its own range of priorities.
type PriorityTier int

const (
	PriorityDefault PriorityTier = iota
	PriorityLowest
	PriorityHighest
)

// String implements fmt.Stringer.
func (t PriorityTier) String() string {
	switch t {
	case PriorityDefault:
		return "Default"
	case PriorityLowest:
		return "Lowest"
	case PriorityHighest:
		return "Highest"
	}
	return fmt.Sprintf("PriorityTier(%d)", int(t))
}

type priorityKind uint8

const (
	priorityUnset priorityKind = iota
	priorityTier
	priorityValue
)

// Priority of a stream: either a named PriorityTier or a raw platform specific value.
//
// The zero value is an unset priority, in which case the platform default is used.
// Create one with TierPriority or ValuePriority.
type Priority struct {
	kind  priorityKind
	tier  PriorityTier
	value int
}

// TierPriority returns a Priority set to the named tier.
func TierPriority(tier PriorityTier) Priority {
	return Priority{kind: priorityTier, tier: tier}
}

// ValuePriority returns a Priority set to a raw platform specific value.
func ValuePriority(value int) Priority {
	return Priority{kind: priorityValue, value: value}
}

// IsSet returns false for the zero Priority.
func (p Priority) IsSet() bool {
	return p.kind != priorityUnset
}

// Tier returns the named tier, if the priority was set with TierPriority.
func (p Priority) Tier() (tier PriorityTier, ok bool) {
	return p.tier, p.kind == priorityTier
}

// Value returns the raw value, if the priority was set with ValuePriority.
func (p Priority) Value() (value int, ok bool) {
	return p.value, p.kind == priorityValue
}

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p.kind {
	case priorityTier:
		return p.tier.String()
	case priorityValue:
		return fmt.Sprintf("%d", p.value)
	}
	return "Unset"
}

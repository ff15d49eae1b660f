package descriptor

// SuperBlockState is a descriptor's super-block occupancy state (spec §4,
// "Anchor"): FULL (no free blocks), PARTIAL (some free), EMPTY (all free,
// eligible to be returned to the segment layer).
type SuperBlockState uint64

const (
	Full SuperBlockState = iota
	Partial
	Empty
)

func (s SuperBlockState) String() string {
	switch s {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Empty:
		return "empty"
	default:
		return "invalid"
	}
}

// Anchor packs a super-block's entire mutable state into one word so it can
// be read and compare-and-swapped atomically (spec §4.3(a)): 2 bits of
// state, 30 bits of avail (the free-list head index within the
// super-block), 32 bits of count (blocks currently on the super-block's
// free list).
type Anchor uint64

const (
	stateBits = 2
	availBits = 30

	stateMask = uint64(1)<<stateBits - 1
	availMask = uint64(1)<<availBits - 1

	availShift = stateBits
	countShift = stateBits + availBits
)

// NewAnchor builds an Anchor from its three fields.
func NewAnchor(state SuperBlockState, avail, count uint32) Anchor {
	return Anchor(uint64(state)&stateMask |
		(uint64(avail)&availMask)<<availShift |
		uint64(count)<<countShift)
}

func (a Anchor) State() SuperBlockState { return SuperBlockState(uint64(a) & stateMask) }
func (a Anchor) Avail() uint32          { return uint32((uint64(a) >> availShift) & availMask) }
func (a Anchor) Count() uint32          { return uint32(uint64(a) >> countShift) }

func (a Anchor) WithState(s SuperBlockState) Anchor {
	return NewAnchor(s, a.Avail(), a.Count())
}

func (a Anchor) WithAvail(avail uint32) Anchor {
	return NewAnchor(a.State(), avail, a.Count())
}

func (a Anchor) WithCount(count uint32) Anchor {
	return NewAnchor(a.State(), a.Avail(), count)
}

package dal

import "fmt"

// ScratchPolicy decides how many scratch contexts may exist at once.
type ScratchPolicy int

const (
	// ScratchPerWrite gives every write its own scratch context bound to
	// the caller. Writes run concurrently up to the Main save.
	ScratchPerWrite ScratchPolicy = iota

	// SharedScratch routes every write through one scratch context on its
	// own queue. Concurrent writers wait their turn.
	SharedScratch
)

func (p ScratchPolicy) String() string {
	switch p {
	case ScratchPerWrite:
		return "per-write"
	case SharedScratch:
		return "shared"
	default:
		return fmt.Sprintf("ScratchPolicy(%d)", int(p))
	}
}

// ParseScratchPolicy accepts "per-write" and "shared".
func ParseScratchPolicy(s string) (ScratchPolicy, error) {
	switch s {
	case "", "per-write", "per_write":
		return ScratchPerWrite, nil
	case "shared":
		return SharedScratch, nil
	default:
		return 0, fmt.Errorf("unknown scratch policy %q (want per-write or shared)", s)
	}
}

type writeMode int

const (
	modeSync writeMode = iota + 1
	modeAsync
)

func (m writeMode) String() string {
	if m == modeAsync {
		return "async"
	}
	return "sync"
}

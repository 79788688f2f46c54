package ime

import "fmt"

// Mode is an input language mode.
type Mode int

const (
	// English is the Latin (base) mode.
	English Mode = iota
	// Korean is the Hangul conversion mode.
	Korean
)

// Base is the mode the engine falls back to when the truth is unknown.
const Base = English

// modeCount is the number of declared modes.
const modeCount = 2

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case English:
		return "english"
	case Korean:
		return "korean"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Next returns the mode a single toggle gesture moves to.
func (m Mode) Next() Mode {
	return (m + 1) % modeCount
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "english", "en":
		return English, nil
	case "korean", "ko":
		return Korean, nil
	default:
		return English, fmt.Errorf("unknown IME mode %q", s)
	}
}

// SyncState is the engine's confidence in its believed mode.
type SyncState int

const (
	Unsynced SyncState = iota
	Synced
	Recovering
)

func (s SyncState) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Synced:
		return "synced"
	case Recovering:
		return "recovering"
	default:
		return fmt.Sprintf("sync(%d)", int(s))
	}
}

package layout

import "fmt"

// Role is the behavior class of a key.
type Role int

const (
	// Ordinary keys type a character or a command.
	Ordinary Role = iota
	// Modifier keys latch and compose with the next ordinary key.
	Modifier
	// LanguageToggle switches the IME language.
	LanguageToggle
	// CapsLock toggles Caps Lock.
	CapsLock
)

var roleNames = [...]string{
	Ordinary:       "ordinary",
	Modifier:       "modifier",
	LanguageToggle: "language_toggle",
	CapsLock:       "caps_lock",
}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole parses a role name. The empty string is Ordinary.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return Ordinary, nil
	}
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return Ordinary, fmt.Errorf("unknown key role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Package label resolves the text a key displays for the current modifier
// and language state.
package label

import "nestkbd/internal/ime"

// Labels holds the four label variants of one key. Empty variants are
// absent.
type Labels struct {
	Base      string `json:"base"`
	Shift     string `json:"shift,omitempty"`
	Lang      string `json:"lang,omitempty"`
	LangShift string `json:"lang_shift,omitempty"`
}

// Resolver maps a key id and modifier state to a label. The table is fixed
// at construction; the only mutable state is the Caps Lock flag. A Resolver
// is owned by one goroutine.
type Resolver struct {
	table map[string]Labels
	caps  bool
}

// NewResolver copies table into a new resolver.
func NewResolver(table map[string]Labels) *Resolver {
	t := make(map[string]Labels, len(table))
	for id, l := range table {
		t[id] = l
	}
	return &Resolver{table: t}
}

// Resolve returns the label of id. A non-base language label wins over the
// Latin ones; Caps Lock inverts the case of alphabetic keys relative to
// shift. Unknown ids resolve to themselves.
func (r *Resolver) Resolve(id string, shift bool, mode ime.Mode) string {
	l, ok := r.table[id]
	if !ok {
		return id
	}

	if mode != ime.Base {
		if shift && l.LangShift != "" {
			return l.LangShift
		}
		if l.Lang != "" {
			return l.Lang
		}
	}

	if r.caps && isAlpha(l.Base) {
		if shift {
			return toLower(l.Base)
		}
		return toUpper(l.Base)
	}

	if shift && l.Shift != "" {
		return l.Shift
	}
	return l.Base
}

// Lookup returns the label variants of id.
func (r *Resolver) Lookup(id string) (Labels, bool) {
	l, ok := r.table[id]
	return l, ok
}

func (r *Resolver) CapsLock() bool { return r.caps }

// ToggleCapsLock flips Caps Lock and returns the new value.
func (r *Resolver) ToggleCapsLock() bool {
	r.caps = !r.caps
	return r.caps
}

func isAlpha(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func toUpper(s string) string {
	if c := s[0]; 'a' <= c && c <= 'z' {
		return string(c - 'a' + 'A')
	}
	return s
}

func toLower(s string) string {
	if c := s[0]; 'A' <= c && c <= 'Z' {
		return string(c - 'A' + 'a')
	}
	return s
}

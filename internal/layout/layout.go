// Package layout loads the static key tables: codes, roles, labels and
// per-state colors. Tables are validated against an embedded JSON schema
// and are not modified after loading.
package layout

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"nestkbd/internal/inject"
	"nestkbd/internal/keystate"
	"nestkbd/internal/label"
)

//go:embed default.json
var defaultLayout []byte

//go:embed layout.schema.json
var schemaJSON []byte

const schemaURL = "layout.schema.json"

// DefaultLongPress applies when neither the layout nor the key sets one.
const DefaultLongPress = time.Second

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("layout: add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Key is one physical key position.
type Key struct {
	ID          string       `json:"id"`
	VK          uint16       `json:"vk,omitempty"`
	Evdev       uint16       `json:"evdev,omitempty"`
	Role        Role         `json:"role,omitempty"`
	Labels      label.Labels `json:"labels"`
	LongPressMS int          `json:"long_press_ms,omitempty"`
	Colors      Palette      `json:"colors,omitempty"`
}

// Code returns the key's injection code.
func (k Key) Code() inject.Code {
	return inject.Code{Name: k.ID, VK: k.VK, Evdev: k.Evdev}
}

// Layout is a complete key table.
type Layout struct {
	Name        string  `json:"name"`
	LongPressMS int     `json:"long_press_ms,omitempty"`
	Palette     Palette `json:"palette,omitempty"`
	Keys        []Key   `json:"keys"`

	index map[string]int
}

// Default returns the built-in QWERTY layout with Dubeolsik labels.
func Default() (*Layout, error) {
	return Parse(defaultLayout)
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse validates data against the layout schema, decodes it and checks
// the table for consistency.
func Parse(data []byte) (*Layout, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("layout: decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("layout: schema: %w", err)
	}

	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("layout: decode: %w", err)
	}
	if err := l.check(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Layout) check() error {
	var errs []error
	l.index = make(map[string]int, len(l.Keys))
	roles := make(map[Role]string)

	for i, k := range l.Keys {
		if _, dup := l.index[k.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate key id %q", k.ID))
			continue
		}
		l.index[k.ID] = i

		switch k.Role {
		case LanguageToggle, CapsLock:
			if prev, ok := roles[k.Role]; ok {
				errs = append(errs, fmt.Errorf("keys %q and %q both have role %s", prev, k.ID, k.Role))
			}
			roles[k.Role] = k.ID
		}
		if k.Role != LanguageToggle && k.VK == 0 && k.Evdev == 0 {
			errs = append(errs, fmt.Errorf("key %q has no vk or evdev code", k.ID))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("layout %q: %w", l.Name, err)
	}
	return nil
}

// Key returns the key with the given id.
func (l *Layout) Key(id string) (Key, bool) {
	i, ok := l.index[id]
	if !ok {
		return Key{}, false
	}
	return l.Keys[i], true
}

// LongPress returns the long-press threshold of k.
func (l *Layout) LongPress(k Key) time.Duration {
	switch {
	case k.LongPressMS > 0:
		return time.Duration(k.LongPressMS) * time.Millisecond
	case l.LongPressMS > 0:
		return time.Duration(l.LongPressMS) * time.Millisecond
	default:
		return DefaultLongPress
	}
}

// Colors returns the per-state colors of k: the key's own colors over the
// layout palette over the built-in palette.
func (l *Layout) Colors(k Key) map[keystate.State]RGB {
	out := make(map[keystate.State]RGB, len(keystate.States))
	for _, s := range keystate.States {
		out[s] = DefaultPalette[s.String()]
		if c, ok := l.Palette[s.String()]; ok {
			out[s] = c
		}
		if c, ok := k.Colors[s.String()]; ok {
			out[s] = c
		}
	}
	return out
}

// Labels returns the label table keyed by key id.
func (l *Layout) Labels() map[string]label.Labels {
	out := make(map[string]label.Labels, len(l.Keys))
	for _, k := range l.Keys {
		out[k.ID] = k.Labels
	}
	return out
}

// Codes returns the injection code of every key.
func (l *Layout) Codes() []inject.Code {
	out := make([]inject.Code, 0, len(l.Keys))
	for _, k := range l.Keys {
		out = append(out, k.Code())
	}
	return out
}

// CodeMap returns the injection codes keyed by key id.
func (l *Layout) CodeMap() map[string]inject.Code {
	out := make(map[string]inject.Code, len(l.Keys))
	for _, k := range l.Keys {
		out[k.ID] = k.Code()
	}
	return out
}

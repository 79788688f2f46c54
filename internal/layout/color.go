package layout

import (
	"fmt"
	"strconv"
)

// RGB is a display color.
type RGB struct {
	R, G, B uint8
}

// ParseRGB parses "#rrggbb".
func ParseRGB(s string) (RGB, error) {
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *RGB) UnmarshalText(b []byte) error {
	v, err := ParseRGB(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Palette maps state names to colors.
type Palette map[string]RGB

// DefaultPalette is used for states a layout leaves out.
var DefaultPalette = Palette{
	"normal":   {0x2b, 0x2b, 0x2b},
	"hover":    {0x3d, 0x3d, 0x3d},
	"pressed":  {0x5c, 0x5c, 0x5c},
	"locked":   {0x2f, 0x6f, 0xd6},
	"disabled": {0x16, 0x16, 0x16},
}

//go:build !linux && !windows

package ime

import "fmt"

func openNative(cfg PlatformConfig) (Platform, error) {
	return nil, ErrUnsupported
}

func openNamed(cfg PlatformConfig) (Platform, error) {
	return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, cfg.Backend)
}

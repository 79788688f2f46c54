//go:build !linux && !windows

package inject

func openNative(codes []Code) (Injector, error) {
	return nil, ErrUnsupported
}

func openNamed(backend string, codes []Code) (Injector, error) {
	return nil, ErrUnsupported
}

package config

import "slices"

// HasChanged returns true if the configuration has changed compared to another config.
// This implementation explicitly compares all fields without using reflection.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.ListenAddress != b.ListenAddress ||
		a.DialTimeoutSeconds != b.DialTimeoutSeconds ||
		a.LogLevel != b.LogLevel {
		return true
	}
	if a.Logging != b.Logging || a.Statistics != b.Statistics || a.Prometheus != b.Prometheus {
		return true
	}
	return !forwardsSliceEqual(a.Forwards, b.Forwards)
}

func forwardsSliceEqual(a, b []Forward) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !forwardEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func forwardEqual(a, b Forward) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() || !slices.Equal(a.Domains(), b.Domains()) {
		return false
	}
	switch fa := a.(type) {
	case *ForwardDefaultNetwork:
		fb := b.(*ForwardDefaultNetwork)
		return fa.ForceIPv4 == fb.ForceIPv4
	case *ForwardSocks5:
		fb := b.(*ForwardSocks5)
		return fa.Address == fb.Address &&
			fa.ForceIPv4 == fb.ForceIPv4 &&
			stringPtrEqual(fa.Username, fb.Username) &&
			stringPtrEqual(fa.Password, fb.Password)
	case *ForwardProxy:
		fb := b.(*ForwardProxy)
		return fa.Address == fb.Address &&
			fa.ForceIPv4 == fb.ForceIPv4 &&
			stringPtrEqual(fa.Username, fb.Username) &&
			stringPtrEqual(fa.Password, fb.Password)
	default:
		return false
	}
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

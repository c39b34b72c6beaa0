package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHTTPTarget(t *testing.T) {
	tests := []struct {
		target   string
		wantAddr TargetAddress
		wantPath string
	}{
		{"http://example.test/path?q=1", TargetAddress{"example.test", 80}, "/path?q=1"},
		{"http://example.test:8080/a/b", TargetAddress{"example.test", 8080}, "/a/b"},
		{"HTTP://Example.test/", TargetAddress{"Example.test", 80}, "/"},
		{"http://example.test", TargetAddress{"example.test", 80}, "/"},
		{"example.test/no-scheme?x=y", TargetAddress{"example.test", 80}, "/no-scheme?x=y"},
		{"example.test:81", TargetAddress{"example.test", 81}, "/"},
		{"http://[::1]:9000/v6", TargetAddress{"::1", 9000}, "/v6"},
		{"example.test/redirect?to=http://other.test", TargetAddress{"example.test", 80}, "/redirect?to=http://other.test"},
		{"example.test:8080/next=https://other.test/x", TargetAddress{"example.test", 8080}, "/next=https://other.test/x"},
		{"http://example.test/go?u=ftp://other.test", TargetAddress{"example.test", 80}, "/go?u=ftp://other.test"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			addr, path, err := ResolveHTTPTarget(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestResolveHTTPTargetErrors(t *testing.T) {
	tests := []struct {
		target   string
		wantCode string
	}{
		{"https://example.test/", ErrCodeUnsupportedScheme},
		{"ftp://example.test/file", ErrCodeUnsupportedScheme},
		{"/relative/only", ErrCodeInvalidAddress},
		{"http://:8080/", ErrCodeInvalidAddress},
		{"http://example.test:0/", ErrCodeInvalidPort},
		{"http://example.test:65536/", ErrCodeInvalidPort},
		{"http://example.test:abc/", ErrCodeInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			_, _, err := ResolveHTTPTarget(tt.target)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ErrorCode(err))
		})
	}
}

func TestResolveConnectTarget(t *testing.T) {
	tests := []struct {
		target string
		want   TargetAddress
	}{
		{"example.test:443", TargetAddress{"example.test", 443}},
		{"example.test:8443", TargetAddress{"example.test", 8443}},
		{"example.test", TargetAddress{"example.test", 443}},
		{"[::1]:8443", TargetAddress{"::1", 8443}},
		{"[::1]", TargetAddress{"::1", 443}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := ResolveConnectTarget(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConnectTargetErrors(t *testing.T) {
	for _, target := range []string{"example.test:", "example.test:https", "example.test:0", "example.test:70000", ":443", "example.test:443:1", "[::1"} {
		t.Run(target, func(t *testing.T) {
			_, err := ResolveConnectTarget(target)
			require.Error(t, err)
			assert.True(t, IsConnectionError(err), "got %v", err)
		})
	}
}

func TestTargetAddressString(t *testing.T) {
	assert.Equal(t, "example.test:80", TargetAddress{"example.test", 80}.String())
	assert.Equal(t, "[::1]:443", TargetAddress{"::1", 443}.String())
}

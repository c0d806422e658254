package bootstrap

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil error returns empty string", nil, ""},
		{"timeout", timeoutErr{}, "timed out"},
		{
			"refused",
			&net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			"Connection refused",
		},
		{"dns", errors.New("dial tcp: lookup redis.internal: no such host"), "Cannot resolve hostname"},
		{"auth", errors.New("NOAUTH Authentication required."), "Authentication failed"},
		{"other", errors.New("protocol error"), "Failed to connect to Redis at localhost:6379: protocol error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(tt.err, "localhost:6379")
			if tt.contains == "" {
				assert.Empty(t, result)
				return
			}
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestContainsIgnoreCase(t *testing.T) {
	assert.True(t, containsIgnoreCase("Connection REFUSED", "refused"))
	assert.True(t, containsIgnoreCase("anything", ""))
	assert.False(t, containsIgnoreCase("abc", "abcd"))
}

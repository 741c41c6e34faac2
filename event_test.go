package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIOEvents_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		e    IOEvents
		want string
	}{
		{"none", 0, "none"},
		{"read", EventRead, "READ"},
		{"write", EventWrite, "WRITE"},
		{"error", EventError, "ERROR"},
		{"hangup", EventHangup, "HUP"},
		{"read|write", EventRead | EventWrite, "READ|WRITE"},
		{"all", EventRead | EventWrite | EventError | EventHangup, "READ|WRITE|ERROR|HUP"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.e.String())
		})
	}
}

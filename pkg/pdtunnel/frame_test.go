package pdtunnel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		line  string
		want  Frame
		cmd   Command
		isCmd bool
	}{
		{"9000\t\tstart_server", Frame{"9000", "", "start_server"}, CommandStartServer, true},
		{"9000\t\tstop_server", Frame{"9000", "", "stop_server"}, CommandStopServer, true},
		{"9000\t55000\tstart_client", Frame{"9000", "55000", "start_client"}, CommandStartClient, true},
		{"9000\t55000\tstop_client", Frame{"9000", "55000", "stop_client"}, CommandStopClient, true},
		{"9000\t55000\thello", Frame{"9000", "55000", "hello"}, "", false},
		{"9000\t55000\t99\t-1\t9100", Frame{"9000", "55000", "99\t-1\t9100"}, "", false},
		{"9000\t55000\tstart_client ", Frame{"9000", "55000", "start_client "}, "", false},
		{"9000\t55000\t", Frame{"9000", "55000", ""}, "", false},
	}
	for _, tt := range tests {
		f, err := ParseFrame(tt.line)
		require.NoError(t, err, tt.line)
		require.Equal(t, tt.want, f, tt.line)
		cmd, ok := f.Command()
		require.Equal(t, tt.isCmd, ok, tt.line)
		require.Equal(t, tt.cmd, cmd, tt.line)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	for _, line := range []string{"", "9000", "9000\t55000"} {
		_, err := ParseFrame(line)
		require.True(t, errors.Is(err, ErrMalformedFrame), "%q: %v", line, err)
	}
}

func TestFormatFrame(t *testing.T) {
	require.Equal(t, "9000\t\tstart_server\n", FormatFrame("9000", "", "start_server\n"))
	require.Equal(t, "1\t2\tx\ty\n", FormatFrame("1", "2", "x\ty\n"))
}

func TestParseMultiprocMarker(t *testing.T) {
	port, ok := ParseMultiprocMarker("99\t-1\t9100")
	require.True(t, ok)
	require.Equal(t, "9100", port)

	for _, line := range []string{"99\t-1", "99\t1\t9100", "98\t-1\t9100", "hello", ""} {
		_, ok := ParseMultiprocMarker(line)
		require.False(t, ok, "%q", line)
	}
}

func TestLineBuffer(t *testing.T) {
	var b lineBuffer
	_, ok := b.Next()
	require.False(t, ok)

	b.Append([]byte("one\ntw"))
	line, ok := b.Next()
	require.True(t, ok)
	require.Equal(t, "one", line)
	_, ok = b.Next()
	require.False(t, ok)
	require.Equal(t, 2, b.Len())

	b.Append([]byte("o\n\nthree"))
	line, _ = b.Next()
	require.Equal(t, "two", line)
	line, ok = b.Next()
	require.True(t, ok)
	require.Equal(t, "", line)
	_, ok = b.Next()
	require.False(t, ok)
	require.Equal(t, len("three"), b.Len())
}

package stdio_test

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

func TestModeString(t *testing.T) {
	tests := map[string]struct {
		mode Mode
		want string
	}{
		"default": {ModeDefault, "default"},
		"inherit": {ModeInherit, "inherit"},
		"pipe":    {ModePipe, "pipe"},
		"pty":     {ModePTY, "pty"},
		"merge":   {ModeMergeStdout, "merge"},
		"unknown": {Mode(42), "mode(42)"},
	}
	for n, tc := range tests {
		t.Run(n, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.mode.String())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg  Config
		want string // empty means valid
	}{
		"allInherit": {
			cfg: Config{Stdin: ModeInherit, Stdout: ModeInherit, Stderr: ModeInherit},
		},
		"mergedStderr": {
			cfg: Config{Stdin: ModeInherit, Stdout: ModePipe, Stderr: ModeMergeStdout},
		},
		"mergedStdin": {
			cfg:  Config{Stdin: ModeMergeStdout},
			want: "stdin cannot use mode merge",
		},
		"mergedStdout": {
			cfg:  Config{Stdout: ModeMergeStdout},
			want: "stdout cannot use mode merge",
		},
	}
	for n, tc := range tests {
		t.Run(n, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestOpenInheritMakesNoEndpoints(t *testing.T) {
	s, err := Open(Config{
		Stdin:  ModeInherit,
		Stdout: ModeInherit,
		Stderr: ModeInherit,
	})
	require.NoError(t, err)
	assert.Nil(t, s.In)
	assert.Nil(t, s.Out)
	assert.Nil(t, s.Err)

	var cmd exec.Cmd
	s.Attach(&cmd)
	assert.Equal(t, os.Stdin, cmd.Stdin)
	assert.Equal(t, os.Stdout, cmd.Stdout)
	assert.Equal(t, os.Stderr, cmd.Stderr)
	assert.NoError(t, s.CloseAll(), "nothing owned, nothing to close")
}

func TestOpenPipes(t *testing.T) {
	s, err := Open(Config{
		Stdin:  ModePipe,
		Stdout: ModePipe,
		Stderr: ModePipe,
	})
	require.NoError(t, err)
	defer func() { _ = s.CloseAll() }()

	for _, ep := range []*Endpoint{s.In, s.Out, s.Err} {
		require.NotNil(t, ep)
		assert.False(t, ep.IsPTY())
		assert.False(t, ep.Closed())
		assert.Greater(t, ep.Fd(), 2)
	}
	assert.Equal(t, "stdin", s.In.Name())
	assert.Equal(t, "stdout", s.Out.Name())
	assert.Equal(t, "stderr", s.Err.Name())

	// The stdin endpoint is the write side: bytes written here arrive
	// on the file the child would read.
	var cmd exec.Cmd
	s.Attach(&cmd)
	n, err := s.In.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	got := make([]byte, 8)
	n, err = cmd.Stdin.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got[:n]))
}

func TestOpenMergeAliasesStdout(t *testing.T) {
	s, err := Open(Config{
		Stdin:  ModeInherit,
		Stdout: ModePipe,
		Stderr: ModeMergeStdout,
	})
	require.NoError(t, err)
	defer func() { _ = s.CloseAll() }()

	assert.Nil(t, s.Err, "merged stderr has no endpoint of its own")
	var cmd exec.Cmd
	s.Attach(&cmd)
	require.NotNil(t, cmd.Stdout)
	assert.Equal(t, cmd.Stdout, cmd.Stderr)
}

func TestOpenPTY(t *testing.T) {
	s, err := Open(Config{
		Stdin:  ModeInherit,
		Stdout: ModePTY,
		Stderr: ModeInherit,
	})
	require.NoError(t, err)
	defer func() { _ = s.CloseAll() }()

	require.NotNil(t, s.Out)
	assert.True(t, s.Out.IsPTY())

	// The child side is the raw-mode terminal: bytes written there
	// surface on the master endpoint unmangled, newline included.
	var cmd exec.Cmd
	s.Attach(&cmd)
	slave, ok := cmd.Stdout.(*os.File)
	require.True(t, ok)
	_, err = slave.Write([]byte("hi\nthere"))
	require.NoError(t, err)

	got := readSoon(t, s.Out, 8)
	assert.Equal(t, "hi\nthere", got)
}

func TestOpenPTYStdin(t *testing.T) {
	s, err := Open(Config{
		Stdin:  ModePTY,
		Stdout: ModeInherit,
		Stderr: ModeInherit,
	})
	require.NoError(t, err)
	defer func() { _ = s.CloseAll() }()

	require.NotNil(t, s.In)
	assert.True(t, s.In.IsPTY())

	// Writes to the endpoint surface on the child's side of the pair.
	var cmd exec.Cmd
	s.Attach(&cmd)
	childSide, ok := cmd.Stdin.(*os.File)
	require.True(t, ok)
	n, err := s.In.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	var got []byte
	buf := make([]byte, 8)
	for len(got) < 3 {
		n, err = childSide.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "abc", string(got))
}

func TestOpenRejectsBadMode(t *testing.T) {
	_, err := Open(Config{Stdin: Mode(9)})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "stdin cannot use mode mode(9)")
	}
}

func TestEndpointCloseIsIdempotent(t *testing.T) {
	s, err := Open(Config{Stdin: ModePipe, Stdout: ModeInherit, Stderr: ModeInherit})
	require.NoError(t, err)
	require.NoError(t, s.CloseChildEnds())
	assert.NoError(t, s.In.Close())
	assert.True(t, s.In.Closed())
	assert.NoError(t, s.In.Close(), "second close is a no-op")
	assert.NoError(t, s.CloseAll())
}

func TestCloseAllIsIdempotent(t *testing.T) {
	s, err := Open(Config{Stdin: ModePipe, Stdout: ModePipe, Stderr: ModeMergeStdout})
	require.NoError(t, err)
	assert.NoError(t, s.CloseAll())
	assert.True(t, s.In.Closed())
	assert.True(t, s.Out.Closed())
	assert.NoError(t, s.CloseAll())
}

// readSoon reads from a non-blocking endpoint until size bytes have
// arrived, giving the kernel a moment to move them across a pty pair.
func readSoon(t *testing.T, ep *Endpoint, size int) string {
	t.Helper()
	var got []byte
	buf := make([]byte, size)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < size {
		n, err := ep.Read(buf)
		got = append(got, buf[:n]...)
		if time.Now().After(deadline) {
			t.Fatalf("read %q so far, then: %v", got, err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return string(got)
}

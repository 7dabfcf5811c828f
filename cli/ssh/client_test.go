package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildSSHArgs(t *testing.T) {
	tests := []struct {
		name        string
		controlPath string
		opts        []SSHOption
		want        []string
	}{
		{
			name: "no options",
			want: []string{},
		},
		{
			name:        "multiplexed",
			controlPath: "/run/texttest/ssh-abc",
			want:        []string{"-o", "ControlPath=/run/texttest/ssh-abc", "-o", "ControlMaster=no"},
		},
		{
			name: "all options",
			opts: []SSHOption{
				WithIdentityFile("/home/u/.ssh/id"),
				WithKnownHostsFile("/home/u/.ssh/known"),
				WithProxyCommand("nc gw 22"),
				WithExtraOptions("BatchMode=yes", "LogLevel=ERROR"),
			},
			want: []string{
				"-i", "/home/u/.ssh/id",
				"-o", "UserKnownHostsFile=/home/u/.ssh/known",
				"-o", "ProxyCommand=nc gw 22",
				"-o", "BatchMode=yes",
				"-o", "LogLevel=ERROR",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(zerolog.Nop(), "lsfhost", tt.opts...)
			c.controlPath = tt.controlPath
			require.Equal(t, tt.want, c.buildSSHArgs())
		})
	}
}

func TestGetControlSocketDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	require.Equal(t, "/run/user/1000/texttest", getControlSocketDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	require.Equal(t, "/cfg/texttest", getControlSocketDir())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/u")
	require.Equal(t, "/home/u/.config/texttest", getControlSocketDir())

	t.Setenv("HOME", "")
	require.Equal(t, filepath.Join(os.TempDir(), "texttest"), getControlSocketDir())
}

func TestControlSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	a := newClient(zerolog.Nop(), "lsf-submit-01.example.com").controlSocketPath()
	b := newClient(zerolog.Nop(), "lsf-submit-02.example.com").controlSocketPath()
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(filepath.Base(a), "ssh-"))
	require.Len(t, filepath.Base(a), len("ssh-")+12)
	require.Equal(t, a, newClient(zerolog.Nop(), "lsf-submit-01.example.com").controlSocketPath())
}

package ssh

// Package ssh runs scheduler commands on a remote submit host over a
// multiplexed OpenSSH connection. The write directories are expected to be
// on a filesystem shared with that host.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Client manages an SSH connection to a specific remote host. It
// implements lsf.Commander.
type Client struct {
	logger         zerolog.Logger
	host           string
	controlPath    string
	identityFile   string
	knownHostsFile string
	proxyCommand   string
	extraOptions   []string
}

// SSHOption is a function that configures an SSH client.
type SSHOption func(*Client)

// WithIdentityFile sets the identity file (private key) to use for authentication.
func WithIdentityFile(path string) SSHOption {
	return func(c *Client) {
		c.identityFile = path
	}
}

// WithKnownHostsFile sets the known hosts file to use for host verification.
func WithKnownHostsFile(path string) SSHOption {
	return func(c *Client) {
		c.knownHostsFile = path
	}
}

// WithProxyCommand sets a proxy command for the SSH connection.
func WithProxyCommand(command string) SSHOption {
	return func(c *Client) {
		c.proxyCommand = command
	}
}

// WithExtraOptions adds extra SSH options to the connection.
func WithExtraOptions(options ...string) SSHOption {
	return func(c *Client) {
		c.extraOptions = append(c.extraOptions, options...)
	}
}

// New creates a new SSH client and establishes a multiplexed connection to the host.
func New(logger zerolog.Logger, host string, opts ...SSHOption) (*Client, error) {
	c := newClient(logger, host, opts...)

	controlPath, err := c.setupMultiplexing()
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH multiplexing: %w", err)
	}
	c.controlPath = controlPath

	return c, nil
}

func newClient(logger zerolog.Logger, host string, opts ...SSHOption) *Client {
	c := &Client{
		logger: logger,
		host:   host,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the SSH connection and cleans up the control socket.
func (c *Client) Close() {
	c.logger.Debug().Str("controlPath", c.controlPath).Msg("Cleaning up SSH multiplexing")

	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-O", "exit",
		c.host,
	}
	cmd := exec.Command("ssh", args...)
	_ = cmd.Run()

	_ = os.Remove(c.controlPath)
}

// RunCommand executes a shell command line on the remote host. The output
// is returned even when the command fails, since bjobs reports unknown jobs
// through a non-zero exit.
func (c *Client) RunCommand(command string) (stdout, stderr string, err error) {
	args := c.buildSSHArgs()
	args = append(args, c.host, command)

	cmd := exec.Command("ssh", args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Running remote command")

	if err := cmd.Run(); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("command failed on %s: %w", c.host, err)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// buildSSHArgs constructs the SSH arguments with all configured options.
func (c *Client) buildSSHArgs() []string {
	args := []string{}

	if c.controlPath != "" {
		args = append(args,
			"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
			"-o", "ControlMaster=no",
		)
	}
	return append(args, c.authArgs()...)
}

func (c *Client) authArgs() []string {
	var args []string
	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}
	if c.knownHostsFile != "" {
		args = append(args, "-o", fmt.Sprintf("UserKnownHostsFile=%s", c.knownHostsFile))
	}
	if c.proxyCommand != "" {
		args = append(args, "-o", fmt.Sprintf("ProxyCommand=%s", c.proxyCommand))
	}
	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}
	return args
}

// Host returns the remote host this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// controlSocketPath returns the control socket for the host. The host is
// hashed to stay within the unix socket path length limit.
func (c *Client) controlSocketPath() string {
	hash := sha256.Sum256([]byte(c.host))
	hostHash := hex.EncodeToString(hash[:])[:12]
	return filepath.Join(getControlSocketDir(), fmt.Sprintf("ssh-%s", hostHash))
}

// setupMultiplexing establishes an SSH master connection for multiplexing.
func (c *Client) setupMultiplexing() (string, error) {
	controlPath := c.controlSocketPath()
	controlDir := filepath.Dir(controlPath)

	if err := os.MkdirAll(controlDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create control directory: %w", err)
	}

	c.logger.Debug().
		Str("host", c.host).
		Str("controlPath", controlPath).
		Int("pathLength", len(controlPath)).
		Msg("Setting up SSH multiplexing")

	// Submission and polling can be minutes apart, so the master outlives
	// idle periods longer than a poll interval.
	args := []string{
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", controlPath),
		"-o", "ControlPersist=10m",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
	}
	args = append(args, c.authArgs()...)
	args = append(args,
		"-f",
		"-N",
		c.host,
	)

	cmd := exec.Command("ssh", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to establish SSH master connection: %w (stderr: %s)", err, stderr.String())
	}

	c.logger.Debug().Str("host", c.host).Msg("SSH master connection established")
	return controlPath, nil
}

// getControlSocketDir returns the directory to use for SSH control sockets.
func getControlSocketDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "texttest")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		return filepath.Join(configHome, "texttest")
	}

	return filepath.Join(os.TempDir(), "texttest")
}

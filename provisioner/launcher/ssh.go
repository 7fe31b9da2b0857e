// Package launcher brings freshly started agent containers online over SSH.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/provisioner/internal"
	"github.com/samber/lo"
	"golang.org/x/crypto/ssh"
)

const (
	AgentJar = "agent.jar"

	defaultDialTimeout = 5 * time.Second
	defaultRetryDelay  = 2 * time.Second
	keepaliveInterval  = 30 * time.Second
)

type dialFunc func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// SSH starts the agent process on an sshd-running container.
// Launch keeps dialing until sshd answers or ctx ends; the caller bounds the wait.
type SSH struct {
	Host           string
	Port           int
	CredentialsID  string
	JVMOptions     string
	JavaPath       string
	PrefixStartCmd string
	SuffixStartCmd string

	Credentials Credentials
	Logger      *slog.Logger

	// DialTimeout bounds each connection attempt, RetryDelay the backoff between them
	DialTimeout time.Duration
	RetryDelay  time.Duration

	dial dialFunc

	mu     sync.Mutex
	client *ssh.Client
	closed chan struct{}
}

// SSH implements agent.Launcher
var _ agent.Launcher = (*SSH)(nil)

func (l *SSH) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// StartCommand is the shell command starting the agent in remoteFS.
// Prefix, suffix and JVM options are shell fragments and are used verbatim.
func (l *SSH) StartCommand(remoteFS string) string {
	java := lo.Ternary(l.JavaPath != "", l.JavaPath, "java")

	parts := []string{fmt.Sprintf("cd %s &&", shellescape.Quote(remoteFS))}
	if prefix := strings.TrimSpace(l.PrefixStartCmd); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, shellescape.Quote(java))
	if opts := strings.TrimSpace(l.JVMOptions); opts != "" {
		parts = append(parts, opts)
	}
	parts = append(parts, "-jar", shellescape.Quote(path.Join(remoteFS, AgentJar)))
	if suffix := strings.TrimSpace(l.SuffixStartCmd); suffix != "" {
		parts = append(parts, suffix)
	}
	return strings.Join(parts, " ")
}

func (l *SSH) Launch(ctx context.Context, a *agent.Agent) error {
	log := lo.Ternary(l.Logger != nil, l.Logger, slog.Default()).With("agent", a.ShortName, "addr", l.Addr())

	if l.Credentials == nil {
		return fmt.Errorf("no credential store to resolve '%s'", l.CredentialsID)
	}
	credential, err := l.Credentials.Lookup(l.CredentialsID)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials for agent '%s': %w", a.ShortName, err)
	}

	config := &ssh.ClientConfig{
		User:            credential.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(credential.Signer)},
		Timeout:         lo.Ternary(l.DialTimeout > 0, l.DialTimeout, defaultDialTimeout),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Host keys are generated when the container starts
	}
	dial := l.dial
	if dial == nil {
		dial = dialContext
	}

	log.Debug("Waiting for SSH daemon")
	client, err := internal.RetryResultUntil(ctx, lo.Ternary(l.RetryDelay > 0, l.RetryDelay, defaultRetryDelay), func(attempt int) (*ssh.Client, error) {
		client, err := dial(ctx, l.Addr(), config)
		if err != nil {
			log.Debug("Connection to agent refused, retrying", "attempt", attempt, "error", err)
		}
		return client, err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to agent '%s' at %s: %w", a.ShortName, l.Addr(), err)
	}

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to create SSH session: %w", err)
	}

	command := l.StartCommand(a.RemoteFS)
	log.Debug("Starting agent", "command", command)
	if err := session.Start(command); err != nil {
		_ = session.Close()
		_ = client.Close()
		return fmt.Errorf("failed to start agent '%s': %w", a.ShortName, err)
	}

	closed := make(chan struct{})
	l.mu.Lock()
	l.client, l.closed = client, closed
	l.mu.Unlock()

	go l.keepalive(client, closed, log)
	go func() {
		if err := session.Wait(); err != nil {
			log.Warn("Agent process exited", "error", err)
		} else {
			log.Info("Agent process exited")
		}
	}()

	log.Info("Agent started")
	return nil
}

// keepalive prevents idle SSH connections from being dropped during long builds.
func (l *SSH) keepalive(client *ssh.Client, closed <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@dockyard", true, nil); err != nil {
				log.Warn("SSH keepalive failed", "error", err)
				return
			}
		}
	}
}

// Close drops the SSH connection of a launched agent.
func (l *SSH) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return nil
	}
	close(l.closed)
	err := l.client.Close()
	l.client = nil
	return err
}

func dialContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake must not hang on a half-started sshd
	_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

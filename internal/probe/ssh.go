// Package probe checks that the cluster's jump host accepts SSH logins
// before any inventory is produced.
package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// SSHProber logs in to a host with a private key and disconnects
// immediately, the equivalent of `ssh -i key user@host exit`.
type SSHProber struct {
	addr    string
	config  *ssh.ClientConfig
	timeout time.Duration
}

// NewSSHProber reads the private key at keyPath and returns a prober for
// user@host:port. Host keys are not verified, matching the
// StrictHostKeyChecking=no the inventory hands to Ansible.
func NewSSHProber(host string, port int, user, keyPath string, timeout time.Duration) (*SSHProber, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}
	return newSSHProber(host, port, user, ssh.PublicKeys(signer), timeout), nil
}

func newSSHProber(host string, port int, user string, auth ssh.AuthMethod, timeout time.Duration) *SSHProber {
	return &SSHProber{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
		timeout: timeout,
	}
}

// Probe completes one SSH handshake and authentication, bounded by the
// prober's timeout and ctx.
func (p *SSHProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, p.addr, p.config)
	if err != nil {
		return fmt.Errorf("ssh handshake with %s: %w", p.addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	return client.Close()
}

// Gate runs a Prober under a RetryPolicy.
type Gate struct {
	logger zerolog.Logger
	prober Prober
	policy RetryPolicy
}

// NewGate creates a Gate.
func NewGate(logger zerolog.Logger, prober Prober, policy RetryPolicy) *Gate {
	return &Gate{
		logger: logger.With().Str("component", "probe").Logger(),
		prober: prober,
		policy: policy,
	}
}

// Check returns nil once a probe succeeds, or an *ExhaustedError after the
// policy's last failed attempt.
func (g *Gate) Check(ctx context.Context) error {
	attempt := 0
	return g.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := g.prober.Probe(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Int("attempt", attempt).Int("of", g.policy.Attempts).Msg("jump host probe failed")
			return err
		}
		g.logger.Debug().Int("attempt", attempt).Msg("jump host reachable")
		return nil
	})
}

package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the qemu:///system daemon socket.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	// DefaultTimeout bounds the socket dial.
	DefaultTimeout = 5 * time.Second
)

// Options configures the daemon connection.
type Options struct {
	Socket  string
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Socket == "" {
		o.Socket = DefaultSocket
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Client wraps a go-libvirt connection to the local daemon.
type Client struct {
	libvirt *libvirt.Libvirt
	socket  string
}

// Connect dials the local libvirt daemon over its UNIX socket. The returned
// Client must be closed via Close() when done. Cancelling ctx abandons a
// dial that is still in progress; a connection it still makes is closed.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	return connect(ctx, opts.withDefaults(), dial, func(c *Client) { _ = c.Close() })
}

func dial(opts Options) (*Client, error) {
	dialer := dialers.NewLocal(
		dialers.WithSocket(opts.Socket),
		dialers.WithLocalTimeout(opts.Timeout),
	)
	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", opts.Socket, err)
	}
	return &Client{libvirt: l, socket: opts.Socket}, nil
}

// connect runs dialFn in the background so ctx can cut the wait short.
// release receives any client that connects after the caller gave up.
func connect(ctx context.Context, opts Options, dialFn func(Options) (*Client, error), release func(*Client)) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := dialFn(opts)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.client != nil {
				release(res.client)
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection. It is safe to call Close multiple
// times.
func (c *Client) Close() error {
	if c == nil || c.libvirt == nil {
		return nil
	}

	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client. It satisfies DomainAPI.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Socket returns the socket path the client is connected to.
func (c *Client) Socket() string {
	return c.socket
}

// Ping verifies the connection is still alive and returns the daemon's
// library version.
func (c *Client) Ping() (string, error) {
	if c == nil || c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return formatVersion(v), nil
}

// formatVersion renders libvirt's major*1000000 + minor*1000 + release
// encoding.
func formatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

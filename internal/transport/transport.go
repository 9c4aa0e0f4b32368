// Package transport implements the byte-stream plumbing underneath the Git
// v2 smart-HTTP protocol: TCP/TLS connection setup (with optional proxy
// CONNECT tunneling), request/response exchange over that connection
// (including hand-rolled HTTP chunked-transfer decoding), and a progress
// meter for long-running pack downloads.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emaste/gitup/internal/gitlog"
	"github.com/emaste/gitup/internal/xerrors"
)

// ioTimeout bounds every read and write; a stalled peer becomes a fatal
// TransportFailure instead of hanging forever.
const ioTimeout = 300 * time.Second

// socketBufferSize is the size requested for the OS send/receive buffers,
// favoring throughput over memory for what is typically a single bulk
// pack transfer per process run.
const socketBufferSize = 1 << 20 // 1 MiB

// ProxyConfig describes an HTTP CONNECT proxy to tunnel the connection
// through before the TLS handshake.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Config describes the endpoint a Conn connects to.
type Config struct {
	Host   string
	Port   int
	UseTLS bool
	Proxy  *ProxyConfig
}

// Conn is a connected, optionally TLS- and proxy-tunneled byte stream ready
// to exchange HTTP requests and responses on.
type Conn struct {
	raw net.Conn
	tls *tls.Conn
}

func (c *Conn) netConn() net.Conn {
	if c.tls != nil {
		return c.tls
	}
	return c.raw
}

// Dial establishes a connection per Config: TCP (optionally via a proxy
// CONNECT tunnel) then, if UseTLS, a TLS handshake with session tickets
// disabled.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	logger := gitlog.FromContext(ctx)

	dialHost, dialPort := cfg.Host, cfg.Port
	if cfg.Proxy != nil {
		dialHost, dialPort = cfg.Proxy.Host, cfg.Proxy.Port
	}

	logger.Debug("dialing", "host", dialHost, "port", dialPort, "proxied", cfg.Proxy != nil)

	dialer := net.Dialer{Timeout: ioTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(dialHost, fmt.Sprintf("%d", dialPort)))
	if err != nil {
		return nil, xerrors.New(xerrors.TransportFailure, err)
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
		_ = tcp.SetReadBuffer(socketBufferSize)
		_ = tcp.SetWriteBuffer(socketBufferSize)
	}

	conn := &Conn{raw: raw}

	if cfg.Proxy != nil {
		if err := conn.connectProxy(cfg.Host, cfg.Port, cfg.Proxy); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}

	if cfg.UseTLS {
		if err := conn.handshakeTLS(cfg.Host); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}

	return conn, nil
}

func (c *Conn) handshakeTLS(serverName string) error {
	tlsConn := tls.Client(c.raw, &tls.Config{
		ServerName:             serverName,
		SessionTicketsDisabled: true,
		MinVersion:             tls.VersionTLS12,
	})
	if err := tlsConn.SetDeadline(time.Now().Add(ioTimeout)); err != nil {
		return xerrors.New(xerrors.TransportFailure, err)
	}
	if err := tlsConn.Handshake(); err != nil {
		return xerrors.New(xerrors.TransportFailure, fmt.Errorf("tls handshake: %w", err))
	}
	c.tls = tlsConn
	return nil
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Send writes data in full, refreshing the I/O deadline first.
func (c *Conn) Send(data []byte) error {
	conn := c.netConn()
	if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		return xerrors.New(xerrors.TransportFailure, err)
	}
	if _, err := conn.Write(data); err != nil {
		return xerrors.New(xerrors.TransportFailure, err)
	}
	return nil
}

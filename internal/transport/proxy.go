package transport

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/emaste/gitup/internal/xerrors"
)

// connectProxy issues an HTTP CONNECT to tunnel c.raw through to
// host:port, authenticating with HTTP Basic auth if the proxy config
// carries credentials. On success c.raw carries a transparent byte
// stream to the origin and every subsequent read/write on c behaves as
// if dialed directly.
func (c *Conn) connectProxy(host string, port int, proxy *ProxyConfig) error {
	target := fmt.Sprintf("%s:%d", host, port)

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if proxy.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		req += "Proxy-Authorization: Basic " + creds + "\r\n"
	}
	req += "\r\n"

	if err := c.raw.SetDeadline(time.Now().Add(ioTimeout)); err != nil {
		return xerrors.New(xerrors.TransportFailure, err)
	}
	if _, err := c.raw.Write([]byte(req)); err != nil {
		return xerrors.New(xerrors.TransportFailure, fmt.Errorf("proxy connect: %w", err))
	}

	resp, err := http.ReadResponse(bufio.NewReader(c.raw), nil)
	if err != nil {
		return xerrors.New(xerrors.TransportFailure, fmt.Errorf("proxy connect response: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.NewHTTP(resp.StatusCode)
	}
	return nil
}

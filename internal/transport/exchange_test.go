package transport

import (
	"bufio"
	"strings"
	"testing"

	"github.com/emaste/gitup/internal/xerrors"
	"github.com/stretchr/testify/require"
)

func TestReadChunkedBody(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	body, err := readChunkedBody(r, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestReadChunkedBodyWithTrailer(t *testing.T) {
	raw := "3\r\nabc\r\n0\r\nX-Trailer: ignored\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	body, err := readChunkedBody(r, nil)
	require.NoError(t, err)
	require.Equal(t, "abc", string(body))
}

func TestReadChunkedBodyMalformedSize(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("zzz\r\n"))
	_, err := readChunkedBody(r, nil)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.MalformedChunking))
}

func TestReadStatusLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\n"))
	status, err := readStatusLine(r)
	require.NoError(t, err)
	require.Equal(t, 200, status)
}

func TestReadStatusLineMalformed(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("not a status line\r\n"))
	_, err := readStatusLine(r)
	require.Error(t, err)
}

func TestReadHeaders(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Type: text/plain\r\nContent-Length: 5\r\n\r\n"))
	headers, err := readHeaders(r)
	require.NoError(t, err)
	require.Equal(t, "text/plain", headers["content-type"])
	require.Equal(t, "5", headers["content-length"])
}

func TestReadFixedBody(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello world"))
	body, err := readFixedBody(r, 5, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

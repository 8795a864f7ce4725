package mqtt

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

// startEchoServer echoes everything written to it.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// startConnectProxy runs a minimal HTTP CONNECT proxy. status other than 200
// refuses every tunnel. The last CONNECT request is sent on seen.
func startConnectProxy(t *testing.T, status int, seen chan<- *http.Request) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			client, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer client.Close()
				req, err := http.ReadRequest(bufio.NewReader(client))
				if err != nil {
					return
				}
				if seen != nil {
					seen <- req
				}
				if status != http.StatusOK {
					io.WriteString(client, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
					return
				}
				target, err := net.Dial("tcp", req.Host)
				if err != nil {
					io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
					return
				}
				defer target.Close()
				io.WriteString(client, "HTTP/1.1 200 Connection established\r\n\r\n")
				go io.Copy(target, client)
				io.Copy(client, target)
			}()
		}
	}()
	return ln.Addr().String()
}

func roundTrip(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestHTTPConnectDialer(t *testing.T) {
	target := startEchoServer(t)
	seen := make(chan *http.Request, 1)
	proxyAddr := startConnectProxy(t, http.StatusOK, seen)

	dialer, err := proxy.FromURL(&url.URL{Scheme: "http", Host: proxyAddr, User: url.UserPassword("user", "secret")}, proxy.Direct)
	require.NoError(t, err)

	conn, err := dialer.Dial("tcp", target)
	require.NoError(t, err)
	defer conn.Close()

	req := <-seen
	assert.Equal(t, http.MethodConnect, req.Method)
	assert.Equal(t, target, req.Host)
	assert.Equal(t, "Basic dXNlcjpzZWNyZXQ=", req.Header.Get("Proxy-Authorization"))

	roundTrip(t, conn)
}

func TestHTTPConnectDialerRefused(t *testing.T) {
	proxyAddr := startConnectProxy(t, http.StatusProxyAuthRequired, nil)

	dialer, err := proxy.FromURL(&url.URL{Scheme: "http", Host: proxyAddr}, proxy.Direct)
	require.NoError(t, err)

	_, err = dialer.Dial("tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProxy)
	assert.Contains(t, err.Error(), "407")
}

func TestHTTPConnectDialerUnreachableProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	dialer, err := proxy.FromURL(&url.URL{Scheme: "http", Host: addr}, proxy.Direct)
	require.NoError(t, err)

	_, err = dialer.Dial("tcp", "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrProxy)
}

func TestProxyOpenConnectionPlaintext(t *testing.T) {
	target := startEchoServer(t)
	proxyAddr := startConnectProxy(t, http.StatusOK, nil)

	open, err := proxyOpenConnection(&url.URL{Scheme: "http", Host: proxyAddr}, 5*time.Second)
	require.NoError(t, err)

	conn, err := open(&url.URL{Scheme: "tcp", Host: target}, pahomqtt.ClientOptions{})
	require.NoError(t, err)
	defer conn.Close()

	roundTrip(t, conn)
}

func TestProxyOpenConnectionUnknownScheme(t *testing.T) {
	_, err := proxyOpenConnection(&url.URL{Scheme: "gopher", Host: "127.0.0.1:70"}, time.Second)
	assert.ErrorIs(t, err, ErrProxy)
}

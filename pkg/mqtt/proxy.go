package mqtt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/net/proxy"
)

func init() {
	// x/net/proxy only knows SOCKS5; teach it HTTP CONNECT tunnels.
	proxy.RegisterDialerType("http", newHTTPConnectDialer)
}

// httpConnectDialer tunnels TCP connections through an HTTP proxy with CONNECT.
type httpConnectDialer struct {
	proxyAddr string
	auth      string
	forward   proxy.Dialer
}

func newHTTPConnectDialer(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	d := &httpConnectDialer{
		proxyAddr: u.Host,
		forward:   forward,
	}
	if u.User != nil {
		password, _ := u.User.Password()
		creds := u.User.Username() + ":" + password
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	}
	return d, nil
}

// Dial connects to the proxy and asks it to open a tunnel to addr
func (d *httpConnectDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := d.forward.Dial(network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrProxy, d.proxyAddr, err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: writing CONNECT: %w", ErrProxy, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: reading CONNECT response: %w", ErrProxy, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("%w: proxy answered %s", ErrProxy, resp.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn serves bytes the proxy sent right after its response before
// reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// proxyOpenConnection returns a paho connection opener that reaches the broker
// through proxyURL, wrapping the tunnel in TLS for ssl:// brokers.
func proxyOpenConnection(proxyURL *url.URL, timeout time.Duration) (pahomqtt.OpenConnectionFunc, error) {
	dialer, err := proxy.FromURL(proxyURL, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProxy, err)
	}

	return func(uri *url.URL, opts pahomqtt.ClientOptions) (net.Conn, error) {
		conn, err := dialer.Dial("tcp", uri.Host)
		if err != nil {
			return nil, err
		}

		switch uri.Scheme {
		case "ssl", "tls", "mqtts", "tcps":
		default:
			return conn, nil
		}

		tlsCfg := &tls.Config{}
		if opts.TLSConfig != nil {
			tlsCfg = opts.TLSConfig.Clone()
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = uri.Hostname()
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake through proxy: %w", err)
		}
		return tlsConn, nil
	}, nil
}

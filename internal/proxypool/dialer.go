package proxypool

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// ContextDialer dials through a proxy.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dialer returns a dialer that tunnels raw TCP connections through px.
// HTTP proxies are reached with CONNECT by the transport instead, so only
// SOCKS types are accepted here.
func Dialer(px *Proxy, timeout time.Duration) (ContextDialer, error) {
	forward := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	switch px.Type {
	case SOCKS5:
		var auth *proxy.Auth
		if px.Username != "" {
			auth = &proxy.Auth{User: px.Username, Password: px.Password}
		}
		d, err := proxy.SOCKS5("tcp", px.Address(), auth, forward)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		return cd, nil
	case SOCKS4, SOCKS4A:
		return &socks4Dialer{
			proxyAddr: px.Address(),
			userID:    px.Username,
			remoteDNS: px.Type == SOCKS4A,
			forward:   forward,
		}, nil
	}
	return nil, fmt.Errorf("proxy type %q has no raw dialer", px.Type)
}

// Transport builds an HTTP transport that routes every request through px.
// A nil proxy yields a direct transport.
func Transport(px *Proxy, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       timeout,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	if px == nil {
		return t, nil
	}

	switch px.Type {
	case HTTP, "":
		t.Proxy = http.ProxyURL(px.URL())
	default:
		d, err := Dialer(px, timeout)
		if err != nil {
			return nil, err
		}
		t.DialContext = d.DialContext
	}
	return t, nil
}

// socks4Dialer speaks SOCKS4 and SOCKS4a, which x/net/proxy does not ship.
type socks4Dialer struct {
	proxyAddr string
	userID    string
	remoteDNS bool
	forward   *net.Dialer
}

func (d *socks4Dialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("socks4: network %q not supported", network)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("socks4: invalid port %q", portStr)
	}

	req := []byte{4, 1, byte(port >> 8), byte(port)}
	if d.remoteDNS {
		// 0.0.0.x with x != 0 tells a SOCKS4a server to resolve the host itself
		req = append(req, 0, 0, 0, 1)
	} else {
		ip, err := resolveIPv4(ctx, host)
		if err != nil {
			return nil, err
		}
		req = append(req, ip...)
	}
	req = append(req, d.userID...)
	req = append(req, 0)
	if d.remoteDNS {
		req = append(req, host...)
		req = append(req, 0)
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: write request: %w", err)
	}
	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: read reply: %w", err)
	}
	if resp[1] != 0x5a {
		conn.Close()
		return nil, fmt.Errorf("socks4: request rejected with code 0x%02x", resp[1])
	}
	return conn, nil
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("socks4: IPv6 address %s not supported", host)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("socks4: resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("socks4: no IPv4 address for %s", host)
}

package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers queried when the system resolver cannot find the
// relay host. They are well-known, high-availability public providers.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"[2620:fe::fe]",          // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

const (
	localLookupTimeout  = time.Second
	publicLookupTimeout = 2 * time.Second
)

var errNoAddress = errors.New("no IP addresses found")

// lookupFunc resolves host, optionally through a specific DNS server.
// An empty server means the system resolver.
type lookupFunc func(ctx context.Context, host, server string) ([]string, error)

// Resolver finds the relay's IP address. It asks the system resolver first
// and races the public servers if that fails.
type Resolver struct {
	Servers []string
	lookup  lookupFunc
}

// NewResolver returns a Resolver using the public fallback servers.
func NewResolver() *Resolver {
	return &Resolver{Servers: publicDNS, lookup: netLookup}
}

// Lookup resolves host to a single address, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localLookupTimeout)
	ips, err := r.lookup(lctx, host, "")
	cancel()
	if err == nil && len(ips) > 0 {
		return preferIPv4(ips), nil
	}

	return r.race(ctx, host)
}

// race queries every public server and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, errNoAddress)
	}

	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, publicLookupTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ips, err := r.lookup(ctx, host, server)
			if err == nil && len(ips) == 0 {
				err = errNoAddress
			}
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{ip: preferIPv4(ips)}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failures)
}

// DialContext resolves the host part of addr and dials the result. It has the
// signature of websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func netLookup(ctx context.Context, host, server string) ([]string, error) {
	r := &net.Resolver{}
	if server != "" {
		r.PreferGo = true
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		}
	}
	return r.LookupHost(ctx, host)
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

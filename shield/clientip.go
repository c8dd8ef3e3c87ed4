package shield

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ExtractIP returns the host part of the direct peer address. It never
// reads forwarding headers; see IPResolver for deployments behind a proxy.
func ExtractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("shield: trusted proxy %q is not an IP or CIDR", e)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("shield: trusted proxy: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// IPResolver finds the client address of a request. X-Forwarded-For is
// read only when the direct peer is a trusted proxy. Hops are walked from
// the right and the first untrusted one is the client, so values a client
// prepends itself are never used.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver returns a resolver trusting the given networks. With none,
// it behaves like ExtractIP.
func NewIPResolver(trusted []*net.IPNet) *IPResolver {
	return &IPResolver{trusted: trusted}
}

func (res *IPResolver) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range res.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address of r.
func (res *IPResolver) ClientIP(r *http.Request) string {
	peer := ExtractIP(r)
	if res == nil || !res.trusts(peer) {
		return peer
	}
	client := peer
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		client = hop
		if !res.trusts(hop) {
			break
		}
	}
	return client
}

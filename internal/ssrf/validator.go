// Package ssrf validates outbound URLs before the gateway fetches them
// on a caller's behalf. Policy is default-deny: a hostname must be
// explicitly allowlisted, and even then its resolved address must not
// land in a private or special-use range.
package ssrf

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// blockedCIDRs is a comprehensive list of RFC special-use IP ranges that
// must never be used as outbound destinations (SSRF prevention).
// Covers: private, loopback, link-local, documentation, benchmarking,
// multicast, reserved, and IPv6 transition mechanism prefixes.
var blockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",       // "This" network (RFC 1122)
		"10.0.0.0/8",      // Private-Use (RFC 1918)
		"100.64.0.0/10",   // Shared Address / CGN (RFC 6598)
		"127.0.0.0/8",     // Loopback (RFC 1122)
		"169.254.0.0/16",  // Link-Local (RFC 3927)
		"172.16.0.0/12",   // Private-Use (RFC 1918)
		"192.0.0.0/24",    // IETF Protocol Assignments (RFC 6890)
		"192.0.2.0/24",    // TEST-NET-1 (RFC 5737)
		"192.168.0.0/16",  // Private-Use (RFC 1918)
		"198.18.0.0/15",   // Benchmarking (RFC 2544)
		"198.51.100.0/24", // TEST-NET-2 (RFC 5737)
		"203.0.113.0/24",  // TEST-NET-3 (RFC 5737)
		"224.0.0.0/4",     // Multicast (RFC 5771)
		"240.0.0.0/4",     // Reserved (RFC 1112)
		"::1/128",         // IPv6 Loopback
		"fc00::/7",        // IPv6 Unique Local (RFC 4193)
		"fe80::/10",       // IPv6 Link-Local (RFC 4291)
		"2001:db8::/32",   // IPv6 Documentation (RFC 3849)
		"2001::/32",       // Teredo (RFC 4380) — embeds IPv4
		"2002::/16",       // 6to4 (RFC 3056) — embeds IPv4
		"64:ff9b::/96",    // NAT64 (RFC 6052) — embeds IPv4
		"ff00::/8",        // IPv6 Multicast (RFC 4291)
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}()

// Resolver abstracts DNS so tests (and alternative infrastructures) can
// substitute resolution.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type systemResolver struct{}

func (systemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Verdict is the result of URL validation.
type Verdict struct {
	Valid  bool
	Reason string // set when Valid is false
}

// Validator applies allowlist, denylist, and resolved-address checks.
type Validator struct {
	allowedHosts map[string]bool
	deniedHosts  []string // matched by suffix
	extraCIDRs   []*net.IPNet
	resolver     Resolver
	timeout      time.Duration

	// lastResolved caches the most recent resolution per allowlisted host
	// to detect DNS rebinding. Races here are benign (last writer wins);
	// the cache exists for detection, not consistency.
	mu           sync.Mutex
	lastResolved map[string]string

	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver substitutes the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithDeniedCIDRs blocks additional ranges beyond the built-in
// special-use list.
func WithDeniedCIDRs(cidrs []string) Option {
	return func(v *Validator) {
		for _, cidr := range cidrs {
			if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
				v.extraCIDRs = append(v.extraCIDRs, ipnet)
			}
		}
	}
}

// NewValidator creates a validator. allowedHosts is the explicit
// allowlist; deniedHosts are rejected by exact or dot-suffix match
// before the allowlist is consulted.
func NewValidator(allowedHosts, deniedHosts []string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Validator {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	v := &Validator{
		allowedHosts: allowed,
		deniedHosts:  deniedHosts,
		resolver:     systemResolver{},
		timeout:      timeout,
		lastResolved: make(map[string]string),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateURL decides whether the gateway may fetch rawURL.
func (v *Validator) ValidateURL(ctx context.Context, rawURL string) Verdict {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("unparseable url: %v", err)}
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return Verdict{Reason: fmt.Sprintf("scheme %q not permitted", u.Scheme)}
	}

	if u.User != nil {
		return Verdict{Reason: "url carries embedded credentials"}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Verdict{Reason: "url has no hostname"}
	}

	if looksLikeAlternativeIP(host) {
		return Verdict{Reason: "host uses alternative IP encoding"}
	}

	// Literal IP: check ranges directly, no allowlist bypass.
	if ip := net.ParseIP(host); ip != nil {
		if v.isBlockedIP(ip) {
			return Verdict{Reason: fmt.Sprintf("address %s is in a blocked range", host)}
		}
		if !v.allowedHosts[host] {
			return Verdict{Reason: fmt.Sprintf("address %s is not allowlisted", host)}
		}
		return Verdict{Valid: true}
	}

	for _, denied := range v.deniedHosts {
		d := strings.ToLower(denied)
		if host == d || strings.HasSuffix(host, "."+d) {
			return Verdict{Reason: fmt.Sprintf("host %s matches denied domain %s", host, denied)}
		}
	}

	// Default-deny: absence from the allowlist rejects even legitimate
	// public hostnames.
	if !v.allowedHosts[host] {
		return Verdict{Reason: fmt.Sprintf("host %s is not allowlisted", host)}
	}

	resolveCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	ips, err := v.resolver.LookupIP(resolveCtx, host)
	if err != nil {
		// Fail closed: an unresolvable allowlisted host is not fetchable.
		return Verdict{Reason: fmt.Sprintf("resolving %s: %v", host, err)}
	}
	if len(ips) == 0 {
		return Verdict{Reason: fmt.Sprintf("no addresses for %s", host)}
	}

	for _, ip := range ips {
		if v.isBlockedIP(ip) {
			return Verdict{Reason: fmt.Sprintf("%s resolves to %s (private/reserved range)", host, ip)}
		}
	}

	if reason := v.checkRebinding(host, ips[0]); reason != "" {
		return Verdict{Reason: reason}
	}

	return Verdict{Valid: true}
}

// checkRebinding compares the fresh resolution against the cached one and
// rejects when an allowlisted host suddenly resolves elsewhere.
func (v *Validator) checkRebinding(host string, ip net.IP) string {
	fresh := ip.String()
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, seen := v.lastResolved[host]
	v.lastResolved[host] = fresh
	if seen && prev != fresh {
		v.logger.Warn("dns rebinding suspected", "host", host, "previous", prev, "current", fresh)
		return fmt.Sprintf("host %s changed address %s -> %s (possible rebinding)", host, prev, fresh)
	}
	return ""
}

// isBlockedIP checks the built-in special-use ranges plus any configured
// extra CIDRs.
func (v *Validator) isBlockedIP(ip net.IP) bool {
	// Normalize IPv4-mapped IPv6 (::ffff:x.x.x.x) to IPv4 so that IPv4
	// CIDRs match correctly.
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	for _, cidr := range v.extraCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// looksLikeAlternativeIP detects hex (0xA9FEA9FE), dot-separated hex
// (0x7f.0x00.0x00.0x01), octal (0177.0.0.1), and packed decimal
// (2130706433) hostnames used to bypass IP blocklists.
func looksLikeAlternativeIP(host string) bool {
	if len(host) > 2 && (host[:2] == "0x" || host[:2] == "0X") {
		return true
	}
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		for _, p := range parts {
			if len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X") {
				return true // hex octet
			}
			if len(p) > 1 && p[0] == '0' && isAllDigits(p) {
				return true // leading-zero octal
			}
		}
	}
	// Packed decimal: pure numeric hostname (e.g. 2130706433 = 127.0.0.1)
	if isAllDigits(host) {
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

package webpage

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Reserved ranges beyond what the net predicates cover.
var (
	cgnat    *net.IPNet // 100.64.0.0/10, carrier-grade NAT
	v6unique *net.IPNet // fc00::/7, IPv6 unique local
)

func init() {
	var err error
	if _, cgnat, err = net.ParseCIDR("100.64.0.0/10"); err != nil {
		panic("invalid CGNAT CIDR: " + err.Error())
	}
	if _, v6unique, err = net.ParseCIDR("fc00::/7"); err != nil {
		panic("invalid IPv6 unique local CIDR: " + err.Error())
	}
}

// validateURL enforces the SSRF policy for fetched pages: HTTPS only, no
// localhost, no local domains, no private addresses.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not allowed")
	}
	return nil
}

// isPrivateIP reports whether ip falls in a private or reserved range,
// including IPv4-mapped IPv6 forms.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return cgnat.Contains(ip) || v6unique.Contains(ip)
}

package fetcher

import (
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrEgressBlocked marks a request rejected by the egress policy. Egress
// violations are fatal for the call and never retried.
var ErrEgressBlocked = eris.New("fetcher: egress blocked")

// blockedIP reports whether the address falls in a range outbound portal
// traffic must never reach.
func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ValidateEgressURL performs the static portion of the egress policy:
// HTTP(S) schemes only, no localhost aliases, no literal blocked IPs.
// Hostname resolution is enforced at dial time by EgressControl.
func ValidateEgressURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "fetcher: parse url")
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return eris.Wrapf(ErrEgressBlocked, "scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return eris.Wrap(ErrEgressBlocked, "empty host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return eris.Wrapf(ErrEgressBlocked, "host %q", host)
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return eris.Wrapf(ErrEgressBlocked, "address %s", ip)
	}
	return nil
}

// EgressControl is a net.Dialer Control hook that re-checks the resolved
// address, closing the hole where a public hostname resolves to a private
// range.
func EgressControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return eris.Wrap(err, "fetcher: split dial address")
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return eris.Wrapf(ErrEgressBlocked, "resolved address %s", ip)
	}
	return nil
}

// IsEgressBlocked reports whether the error chain contains an egress
// rejection.
func IsEgressBlocked(err error) bool {
	return err != nil && eris.Is(err, ErrEgressBlocked)
}

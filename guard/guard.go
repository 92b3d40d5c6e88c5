// Package guard holds the checks imgscout applies to untrusted input:
// target URLs fetched on someone else's behalf, file names taken from
// pages, and response bodies of unknown size.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal is returned when a name would land outside its directory.
	ErrPathTraversal = errors.New("guard: path escapes base directory")
	// ErrPrivateTarget is returned for URLs aimed at loopback, link-local or
	// private addresses.
	ErrPrivateTarget = errors.New("guard: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("guard: only http and https URLs are allowed")
	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("guard: body too large")
)

// lookupHost is swapped in tests.
var lookupHost = net.LookupHost

// SafePath joins name under base and refuses results outside base.
func SafePath(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	p := filepath.Join(root, filepath.Clean("/"+name))
	if p == root || !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return p, nil
}

// ValidateURL accepts absolute http(s) URLs whose host is, and resolves
// only to, public addresses. Hosts that do not resolve are let through:
// the fetch will fail on its own.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("guard: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("guard: url %q has no host", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if Private(addr) {
			return ErrPrivateTarget
		}
		return nil
	}
	addrs, err := lookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && Private(addr) {
			return ErrPrivateTarget
		}
	}
	return nil
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// Private reports whether addr must not be reached from the relay.
func Private(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// LimitedReadAll reads r up to max bytes and fails with ErrTooLarge past it.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

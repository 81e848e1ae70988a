// Package clientip extracts the visitor IP from proxy headers.
package clientip

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// HeaderFunc returns the value of a request header, or "" when absent.
type HeaderFunc func(name string) string

// Extract returns the client IP using, in order, the first X-Forwarded-For
// entry, X-Real-IP, then the transport peer address. It returns "" when none
// is available and never fails on malformed input.
func Extract(header HeaderFunc, peer string) string {
	if header != nil {
		if forwarded := header("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if ip := strings.TrimSpace(header("X-Real-IP")); ip != "" {
			return ip
		}
	}

	return peerHost(peer)
}

// FromFiber extracts the client IP of a fiber request. The result is copied
// out of the request buffers, so it stays valid after the handler returns.
func FromFiber(c *fiber.Ctx) string {
	peer := ""
	if addr := c.Context().RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return utils.CopyString(Extract(func(name string) string { return c.Get(name) }, peer))
}

// IsLoopback reports whether ip is a loopback address such as 127.0.0.1 or ::1.
func IsLoopback(ip string) bool {
	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}

func peerHost(peer string) string {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(peer); err == nil {
		return host
	}
	return peer
}

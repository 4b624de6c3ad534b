// Package browser owns the session glue between the worker and the injected
// browser launcher: proxy address parsing, launch/teardown with logging, and
// the optional on-failure screenshot dump.
package browser

import (
	"fmt"
	"strings"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// ParseProxyAddress parses a "host:port:username:password" proxy row into
// the launcher config. Proxies speak http with basic auth.
func ParseProxyAddress(address string) (avito.ProxyConfig, error) {
	parts := strings.Split(address, ":")
	if len(parts) != 4 {
		return avito.ProxyConfig{}, fmt.Errorf(
			"invalid proxy address %q: want host:port:username:password", Redact(address))
	}
	return avito.ProxyConfig{
		Server:   parts[0] + ":" + parts[1],
		Username: parts[2],
		Password: parts[3],
	}, nil
}

// Redact renders a proxy address as "host:****" for logs.
func Redact(address string) string {
	host, _, ok := strings.Cut(address, ":")
	if !ok {
		return "****"
	}
	return host + ":****"
}

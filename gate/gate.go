// Package gate provides FilterConfig implementations that decide whether a
// filter applies to a request.
package gate

import (
	"net/url"
	"slices"
	"strings"

	"github.com/lsm/httpfilter/httpclient"
)

// Methods accepts requests whose method is one of methods (case-insensitive).
func Methods(methods ...string) httpclient.FilterConfig {
	upper := make([]string, len(methods))
	for i, m := range methods {
		upper[i] = strings.ToUpper(m)
	}
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		return slices.Contains(upper, strings.ToUpper(req.Method))
	})
}

// URLPrefix accepts requests whose URL starts with prefix.
func URLPrefix(prefix string) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		return strings.HasPrefix(req.URL(), prefix)
	})
}

// Hosts accepts requests addressed to one of hosts. A host without a port
// matches any port.
func Hosts(hosts ...string) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		u, err := url.Parse(req.URL())
		if err != nil {
			return false
		}
		for _, h := range hosts {
			if strings.EqualFold(h, u.Host) || strings.EqualFold(h, u.Hostname()) {
				return true
			}
		}
		return false
	})
}

// HasProperty accepts requests carrying a non-nil value for key.
func HasProperty(key string) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		return req.Property(key) != nil
	})
}

// All accepts a request when every gate does. No gates accepts everything.
func All(gates ...httpclient.FilterConfig) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		for _, g := range gates {
			if g != nil && !g.Enabled(req) {
				return false
			}
		}
		return true
	})
}

// Any accepts a request when at least one gate does.
func Any(gates ...httpclient.FilterConfig) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		for _, g := range gates {
			if g == nil || g.Enabled(req) {
				return true
			}
		}
		return false
	})
}

// Not inverts g.
func Not(g httpclient.FilterConfig) httpclient.FilterConfig {
	return httpclient.ConfigFunc(func(req *httpclient.Request) bool {
		return !g.Enabled(req)
	})
}

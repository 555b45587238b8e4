// Package filters holds helpers shared by the stock filters. Each filter
// lives in its own subpackage.
package filters

import (
	"net/url"

	"github.com/lsm/httpfilter/httpclient"
)

// TargetProperty names the request property that overrides the target key
// used by per-target filters (rate limiting, circuit breaking, auth).
const TargetProperty = "target"

// Target returns the logical target of req: the TargetProperty when set,
// otherwise the URL host (with port).
func Target(req *httpclient.Request) string {
	if v, ok := req.Property(TargetProperty).(string); ok && v != "" {
		return v
	}
	u, err := url.Parse(req.URL())
	if err != nil {
		return ""
	}
	return u.Host
}

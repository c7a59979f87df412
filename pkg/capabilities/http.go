package capabilities

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// UserAgentPrefix identifies module traffic; the module name is appended
const UserAgentPrefix = "modhost-module/"

// NewHTTPClient returns the outbound client handed to a module. Requests are
// traced and tagged with the module's user agent.
func NewHTTPClient(module string, timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&userAgent{agent: UserAgentPrefix + module, next: base},
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "module " + module + " " + r.Method
			}),
		),
	}
}

type userAgent struct {
	agent string
	next  http.RoundTripper
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.agent)
	return u.next.RoundTrip(r)
}

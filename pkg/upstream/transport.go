package upstream

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// requestIDRoundTripper forwards the inbound chi request ID so provider-side
// logs can be correlated with ours.
type requestIDRoundTripper struct {
	Base http.RoundTripper
}

func (rt requestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	id := middleware.GetReqID(req.Context())
	if id == "" {
		return base.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header = req.Header.Clone()
	out.Header.Set(middleware.RequestIDHeader, id)
	return base.RoundTrip(out)
}

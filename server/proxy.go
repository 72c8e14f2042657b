package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// NewVehicleProxy forwards /api/* to the vehicle-data API with the session's access token
// as a bearer credential. The relay session id never leaves the relay.
func NewVehicleProxy(target string) (http.Handler, error) {
	upstream, err := url.Parse(target)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("[Server NewVehicleProxy] invalid upstream url %q", target)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = "/" + strings.TrimPrefix(pr.In.URL.Path, RouteAPI)
			pr.Out.URL.RawPath = ""
			pr.SetURL(upstream)

			pr.Out.Header.Del(HeaderSessionID)
			pr.Out.Header.Del("Cookie")
			if session, ok := SessionFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+session.AccessToken)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("vehicle api unavailable")
			writeJSONError(w, "Vehicle API unavailable", http.StatusBadGateway)
		},
	}, nil
}

func (s *Server) VehicleProxyHandler() http.HandlerFunc {
	return s.vehicle.ServeHTTP
}

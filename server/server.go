package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-login-relay/auth"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Service
	gateway *auth.Gateway
	vehicle http.Handler // proxy to the vehicle-data API, nil when not configured
}

func New(config config.Config, authService *auth.Service, gateway *auth.Gateway) (*Server, error) {
	if authService == nil {
		return nil, fmt.Errorf("[Server New] auth service is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("[Server New] gateway is required")
	}

	s := &Server{
		env:     config.GetEnv(),
		mux:     http.NewServeMux(),
		config:  config,
		auth:    authService,
		gateway: gateway,
	}

	if target := config.GetVehicleAPIURL(); target != "" {
		proxy, err := NewVehicleProxy(target)
		if err != nil {
			return nil, fmt.Errorf("[Server New] failed to create vehicle proxy: %w", err)
		}
		s.vehicle = proxy
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("*", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Str("method", method).Str("path", path).Msg("route")
}

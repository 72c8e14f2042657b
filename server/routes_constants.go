package server

// Route path constants
const (
	RouteLogin   = "/login"
	RouteRefresh = "/refresh"
	RouteLogout  = "/logout"
	RouteHealth  = "/health"

	// RouteAPI prefixes every vehicle-data call; all of them pass the session gateway.
	RouteAPI = "/api/"

	// HeaderSessionID carries the relay session id on data calls
	HeaderSessionID = "x-session-id"
)

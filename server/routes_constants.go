package server

// Route path constants
const (
	RouteToken  = "/token"
	RouteChats  = "/chats"
	RouteHealth = "/healthz"

	// Topic gateway: GET upgrades to a websocket subscription, POST publishes
	RouteTopic = "/topics/{namespace}/{topic}"
)

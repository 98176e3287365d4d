package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Caller API, authenticated with the caller's identity token
	s.RegisterRouteHandler("GET "+RouteToken, ChainMiddleware(s.GetTokenHandler(), s.APIMiddleware(s.RequireAuth(), s.RateLimitMiddleware())...))
	s.RegisterRouteHandler("POST "+RouteChats, ChainMiddleware(s.CreateChatHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteChats, ChainMiddleware(s.ListChatsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("OPTIONS "+RouteToken, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteChats, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Topic gateway, authorised by disposable tokens
	s.RegisterRouteHandler("GET "+RouteTopic, ChainMiddleware(s.SubscribeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteTopic, ChainMiddleware(s.PublishHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteTopic, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
}

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/internal/config"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TokenIssuer mints disposable credentials for authenticated callers.
type TokenIssuer interface {
	IssueToken(ctx context.Context, caller identity.Identity) (*token.DisposableCredential, error)
}

type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	logger   zerolog.Logger
	routeOut io.Writer

	verifier identity.Verifier
	issuer   TokenIssuer
	chats    *chats.Service
	topics   transport.TopicClient
	limiter  *subjectLimiter
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRouteOutput sets where registered routes are printed outside production.
func WithRouteOutput(w io.Writer) Option {
	return func(s *Server) {
		s.routeOut = w
	}
}

// New builds the edge API. verifier authenticates callers of /chats and /token; topics serves
// the websocket gateway, which is authorised by disposable tokens instead.
func New(cfg config.Config, verifier identity.Verifier, issuer TokenIssuer, chatService *chats.Service, topics transport.TopicClient, options ...Option) (*Server, error) {
	if verifier == nil || issuer == nil || chatService == nil || topics == nil {
		return nil, fmt.Errorf("[Server New] verifier, issuer, chat service and topic client are required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		logger:   log.Logger.With().Str("component", "server").Logger(),
		routeOut: os.Stdout,
		verifier: verifier,
		issuer:   issuer,
		chats:    chatService,
		topics:   topics,
		limiter:  newSubjectLimiter(cfg.GetTokenRatePerMinute(), cfg.GetTokenRateBurst()),
	}
	for _, opt := range options {
		opt(s)
	}

	allowed := cfg.GetAllowedOrigins()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed.IsAllowedOrigin(origin)
		},
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

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.config.IsProduction() || s.routeOut == nil {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(s.routeOut, parts[0], parts[1])
		} else {
			logRoute(s.routeOut, "", parts[0])
		}
	}
}

func logRoute(w io.Writer, method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	fmt.Fprintf(w, "[%-19s] %s\n", displayMethod, path)
}

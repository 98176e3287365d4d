package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/jrsteele09/go-chat-server/broker/kafkabus"
	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/jrsteele09/go-chat-server/chats/badgerrepo"
	"github.com/jrsteele09/go-chat-server/chats/repofake"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/internal/config"
	"github.com/jrsteele09/go-chat-server/internal/errors"
	"github.com/jrsteele09/go-chat-server/internal/logging"
	"github.com/jrsteele09/go-chat-server/secrets"
	"github.com/jrsteele09/go-chat-server/server"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = fmt.Errorf("%w: panic recovered", errors.ErrInternal)
		}
	}()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	c, err := config.Load()
	if err != nil {
		return errors.Wrapf(err, "config.Load")
	}
	if err := logging.Setup(c.GetLogLevel(), c.GetLogFormat()); err != nil {
		return errors.Wrapf(err, "logging.Setup")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := secrets.NewResolver(secrets.WithAgeIdentityFile(c.GetAgeIdentityFile()))

	b, err := newBroker(ctx, c, resolver)
	if err != nil {
		return err
	}
	defer b.Close()
	go func() {
		if err := b.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Broker bus stopped")
		}
	}()

	repo, db, err := newChatRepo(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	verifier, err := newVerifier(ctx, c, resolver)
	if err != nil {
		return err
	}

	issuer := token.New(b, resolver, c.GetAdminCredentialRef(),
		token.WithNamespace(c.GetNamespace()),
		token.WithTTL(c.GetTokenTTL()),
	)

	handler, err := server.New(c, verifier, issuer, chats.NewService(repo), b)
	if err != nil {
		return errors.Wrapf(err, "server.New")
	}

	displayAppname(c.GetAppName())
	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	return shutdown(httpServer)
}

// newBroker builds the in-process messaging service. When BROKER_SIGNING_KEY_REF resolves to a PEM
// EC key tokens are signed with ES256, otherwise with HS256 using the resolved value.
func newBroker(ctx context.Context, c config.Config, resolver *secrets.Resolver) (*broker.Broker, error) {
	endpoint := c.GetPublicEndpoint()
	if endpoint == "" {
		endpoint = "ws://localhost" + c.GetPort()
	}
	opts := []broker.Option{
		broker.WithEndpoint(endpoint),
		broker.WithSubscriberBuffer(c.GetSubscriberBuffer()),
		broker.WithAPIKeyHash(c.GetBrokerAdminKeyHash()),
	}

	if ref := c.GetBrokerSigningKeyRef(); ref != "" {
		key, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving broker signing key %s", ref)
		}
		if strings.HasPrefix(strings.TrimSpace(key), "-----BEGIN") {
			signer, err := broker.ParseECDSASigner("chat-broker", []byte(key))
			if err != nil {
				return nil, errors.Wrapf(err, "parsing broker signing key %s", ref)
			}
			opts = append(opts, broker.WithSigner(signer))
		} else {
			opts = append(opts, broker.WithSigningKey([]byte(key)))
		}
	}

	if brokers := c.GetKafkaBrokers(); len(brokers) > 0 {
		bus, err := kafkabus.New(brokers, c.GetKafkaTopic())
		if err != nil {
			return nil, errors.Wrapf(err, "kafkabus.New")
		}
		opts = append(opts, broker.WithBus(bus))
		log.Info().Strs("brokers", brokers).Str("topic", c.GetKafkaTopic()).Msg("Distributing published items over Kafka")
	}

	b, err := broker.New(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "broker.New")
	}

	// Without a stored hash the broker accepts the administrative credential the issuer will present.
	if c.GetBrokerAdminKeyHash() == "" {
		apiKey, err := resolver.Resolve(ctx, c.GetAdminCredentialRef())
		if err != nil && !errors.Is(err, secrets.ErrNotFound) {
			return nil, errors.Wrapf(err, "resolving admin credential %s", c.GetAdminCredentialRef())
		}
		if err != nil {
			log.Warn().Str("secret_ref", c.GetAdminCredentialRef()).Msg("Admin credential unavailable; token issuance will fail until it is configured")
			return b, nil
		}
		if err := b.RegisterAPIKey(apiKey); err != nil {
			return nil, errors.Wrapf(err, "registering admin credential")
		}
	}
	return b, nil
}

func newChatRepo(c config.Config) (chats.Repo, *badger.DB, error) {
	switch c.GetStorageDriver() {
	case "badger":
		if c.GetDataFolder() == "" {
			return nil, nil, fmt.Errorf("%w: DATA_FOLDER is required for the badger storage driver", errors.ErrMissingConfig)
		}
		db, err := badgerrepo.Open(c.GetDataFolder())
		if err != nil {
			return nil, nil, errors.Wrapf(err, "badgerrepo.Open")
		}
		return badgerrepo.New(db), db, nil
	default:
		return repofake.NewFakeChatRepo(), nil, nil
	}
}

func newVerifier(ctx context.Context, c config.Config, resolver *secrets.Resolver) (identity.Verifier, error) {
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		v, err := identity.NewOIDCVerifier(ctx, issuer, c.GetOIDCClientID())
		if err != nil {
			return nil, errors.Wrapf(err, "identity.NewOIDCVerifier")
		}
		log.Info().Str("issuer", issuer).Msg("Verifying callers with OIDC")
		return v, nil
	}

	ref := c.GetAuthJWTSecretRef()
	if ref == "" {
		return nil, fmt.Errorf("%w: set OIDC_ISSUER or AUTH_JWT_SECRET_REF", errors.ErrMissingConfig)
	}
	secret, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving identity secret %s", ref)
	}
	log.Warn().Msg("Verifying callers with a shared HS256 secret; use OIDC_ISSUER in production")
	return identity.NewHMACVerifier(secret), nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

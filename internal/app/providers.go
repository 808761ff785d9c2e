// Package app wires the authorization server's components together:
// config, databases, repositories, the Permission Engine, Token Manager,
// Auth Coordinator, Message Fabric, HTTP transport, and the maintenance
// scheduler. Grounded on the teacher's internal/app/providers.go
// (DatabaseContainer -> RepositoryContainer -> ServiceContainer
// construction order), narrowed from its multi-mode (server/worker),
// gRPC-plus-HTTP, dozen-plus-service shape down to the single deployment
// mode and component set the governing specification names.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"authz/internal/config"
	"authz/internal/core/services/audit"
	"authz/internal/core/services/coordinator"
	"authz/internal/core/services/organization"
	"authz/internal/core/services/rbac"
	tokensvc "authz/internal/core/services/token"
	"authz/internal/fabric"
	"authz/internal/infrastructure/database"
	"authz/internal/infrastructure/idp"
	auditrepo "authz/internal/infrastructure/repository/audit"
	orgrepo "authz/internal/infrastructure/repository/organization"
	rbacrepo "authz/internal/infrastructure/repository/rbac"
	tokenrepo "authz/internal/infrastructure/repository/token"
	userrepo "authz/internal/infrastructure/repository/user"
	"authz/internal/maintenance"
	"authz/pkg/logging"
)

// DatabaseContainer holds every live database connection.
type DatabaseContainer struct {
	Postgres   *database.PostgresDB
	ClickHouse *database.ClickHouseDB
	Redis      *database.RedisDB
}

// Close tears down every database connection, collecting the first error.
func (d *DatabaseContainer) Close() error {
	var firstErr error
	for _, closer := range []func() error{d.Postgres.Close, d.ClickHouse.Close, d.Redis.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// provideDatabases opens Postgres, ClickHouse and Redis in that order,
// matching the teacher's ProvideDatabases sequencing.
func provideDatabases(cfg *config.Config, logger *slog.Logger) (*DatabaseContainer, error) {
	pg, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	ch, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	rdb, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &DatabaseContainer{Postgres: pg, ClickHouse: ch, Redis: rdb}, nil
}

// Core bundles every constructed component so App can start/stop them
// and the HTTP transport layer can reach the ones it exposes directly
// (the organization resolver and permission engine have operations the
// Auth Coordinator doesn't front, e.g. administrative org/role CRUD).
type Core struct {
	Config      *config.Config
	Logger      *slog.Logger
	Databases   *DatabaseContainer
	Transactor  database.Transactor
	Transport   fabric.Transport
	Coordinator *coordinator.Coordinator
	Handlers    *coordinator.Handlers
	Cleanup     *maintenance.TokenCleanupWorker
	Orgs        *organization.Resolver
	Engine      *rbac.Engine
	Audit       *audit.Service
}

// provideCore constructs the full dependency graph: databases,
// repositories, domain services, the fabric transport, the consumer
// handlers bridging messages to repositories, and the Auth Coordinator
// that orchestrates them — mirroring the teacher's
// ProvideCore/ProvideRepositories/ProvideServices layering collapsed
// into one pass since this domain has far fewer components.
func provideCore(cfg *config.Config) (*Core, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	databases, err := provideDatabases(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	transactor := database.NewTransactor(databases.Postgres.DB)

	users := userrepo.NewRepository(databases.Postgres.DB)
	orgs := orgrepo.NewRepository(databases.Postgres.DB)
	memberships := orgrepo.NewMembershipRepository(databases.Postgres.DB)
	roles := rbacrepo.NewRoleRepository(databases.Postgres.DB)
	permissions := rbacrepo.NewPermissionRepository(databases.Postgres.DB)
	userRoles := rbacrepo.NewUserRoleRepository(databases.Postgres.DB)
	blacklist := tokenrepo.NewRepository(databases.Postgres.DB)
	events := auditrepo.NewRepository(databases.ClickHouse.Conn)

	orgResolver := organization.NewResolver(orgs, transactor, logger)
	engine := rbac.NewEngine(orgs, userRoles, roles, cfg.RBAC.CacheSize, logger)
	auditSvc := audit.NewService(events, logger)

	tokenManager, err := tokensvc.NewManager(tokensvc.Config{
		Secret:          cfg.Token.Secret,
		Issuer:          cfg.Token.Issuer,
		Audience:        cfg.Token.Audience,
		AccessTokenTTL:  time.Duration(cfg.Token.ExpirationMinutes) * time.Minute,
		RefreshTokenTTL: time.Duration(cfg.Token.RefreshTTLHours) * time.Hour,
		MaxPermissions:  cfg.Token.MaxPermissions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	transport, err := provideFabricTransport(cfg, databases.Redis.Client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fabric transport: %w", err)
	}

	handlers := &coordinator.Handlers{
		Users:       users,
		Memberships: memberships,
		Orgs:        orgs,
		Permissions: engine,
		Blacklist:   blacklist,
		Logger:      logger,
	}

	idpClient := idp.New(cfg.IdP)
	auth := coordinator.New(transport, idpClient, tokenManager, auditSvc)

	cleanup := maintenance.NewTokenCleanupWorker(
		blacklist,
		time.Duration(cfg.Maintenance.TokenCleanupIntervalMinutes)*time.Minute,
		logger,
	)

	return &Core{
		Config:      cfg,
		Logger:      logger,
		Databases:   databases,
		Transactor:  transactor,
		Transport:   transport,
		Coordinator: auth,
		Handlers:    handlers,
		Cleanup:     cleanup,
		Orgs:        orgResolver,
		Engine:      engine,
		Audit:       auditSvc,
	}, nil
}

// provideFabricTransport builds the in-process or Redis Streams
// transport per FabricConfig.Transport, translating the duration/count
// fields into a fabric.Config.
func provideFabricTransport(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (fabric.Transport, error) {
	fc := fabric.Config{
		MaxInFlight: cfg.Fabric.MaxInFlight,
		Prefetch:    cfg.Fabric.Prefetch,
		CallTimeout: time.Duration(cfg.Fabric.CallTimeoutSeconds) * time.Second,
		Retry: fabric.RetryConfig{
			InitialBackoff: time.Duration(cfg.Fabric.RetryInitialBackoffMs) * time.Millisecond,
			Multiplier:     cfg.Fabric.RetryMultiplier,
			MaxBackoff:     time.Duration(cfg.Fabric.RetryMaxBackoffMs) * time.Millisecond,
			MaxAttempts:    cfg.Fabric.RetryMaxAttempts,
		},
		Breaker: fabric.BreakerConfig{
			FailureThreshold: cfg.Fabric.BreakerFailureThreshold,
			Window:           time.Duration(cfg.Fabric.BreakerWindowSeconds) * time.Second,
			OpenDuration:     time.Duration(cfg.Fabric.BreakerOpenSeconds) * time.Second,
		},
	}

	switch cfg.Fabric.Transport {
	case "redis":
		return fabric.NewRedisTransport(redisClient, fc, "authz-consumers", logger), nil
	case "inmemory", "":
		return fabric.NewInMemoryTransport(fc, fabric.NewLoggingDeadLetterSink(logger), logger), nil
	default:
		return nil, fmt.Errorf("unsupported fabric transport %q", cfg.Fabric.Transport)
	}
}

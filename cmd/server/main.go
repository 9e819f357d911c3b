package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-office-bills/internal/client"
	"github.com/pesio-ai/be-office-bills/internal/handler"
	"github.com/pesio-ai/be-office-bills/internal/platform/auth"
	"github.com/pesio-ai/be-office-bills/internal/platform/config"
	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/platform/middleware"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/repository/memstore"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

// stores groups the persistence ports the services need.
type stores struct {
	bills      service.BillStore
	rules      service.RuleAdminStore
	workflow   service.WorkflowStore
	directory  service.Directory
	roles      service.RoleDirectory
	couriers   service.CourierStore
	assets     service.AssetStore
	complaints service.ComplaintStore
	close      func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Service.StoreDriver).
		Msg("Starting Office Bills Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer st.close()

	// Idempotency keys for approval decisions
	var idem service.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := client.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		idem = client.NewRedisIdempotencyStore(rdb, cfg.Service.Name, cfg.Redis.IdempotencyTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis idempotency store enabled")
	} else {
		idem = memstore.NewIdempotencyStore(cfg.Redis.IdempotencyTTL)
		log.Warn().Msg("REDIS_ADDR not set; idempotency keys are kept in process memory")
	}

	// Notifications
	var notifier service.Notifier
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
		} else {
			defer drainNATS(nc)
			notifier = client.NewNotificationPublisher(nc, log.Component("notifications").Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS notifications enabled")
		}
	}

	// Bill image storage
	var files service.FileStore
	if cfg.Storage.Bucket != "" {
		fs, err := client.NewS3FileStore(ctx, client.S3FileStoreConfig{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("File storage unavailable; uploads disabled")
		} else {
			files = fs
		}
	}

	noRule, err := service.ParseNoRulePolicy(cfg.Workflow.NoRulePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow configuration")
	}
	unresolved, err := service.ParseUnresolvedRolePolicy(cfg.Workflow.UnresolvedRolePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow configuration")
	}

	// Initialize services
	routingService := service.NewApprovalRoutingService(
		st.rules, st.workflow, st.directory, notifier, log.Component("routing"),
		service.WithNoRulePolicy(noRule),
		service.WithUnresolvedRolePolicy(unresolved),
		service.WithIdempotencyStore(idem),
	)
	billService := service.NewBillService(st.bills, st.rules, st.roles, files, routingService, log.Component("bills"))
	office := handler.OfficeServices{
		Couriers:   service.NewCourierService(st.couriers, st.roles, log.Component("couriers")),
		Assets:     service.NewAssetService(st.assets, st.roles, log.Component("assets")),
		Complaints: service.NewComplaintService(st.complaints, st.roles, log.Component("complaints")),
	}
	if interval := cfg.Workflow.OverdueSweepInterval; interval > 0 {
		go office.Assets.RunOverdueSweep(ctx, interval)
		log.Info().Dur("interval", interval).Msg("Asset overdue sweep enabled")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set; every token will fail validation")
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(billService, routingService, office, log)
	h := middleware.Timeout(cfg.Server.WriteTimeout)(httpHandler.Routes(verifier.Middleware, cfg.Server.AllowedOrigins))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.AuthInterceptor(verifier)))
	handler.NewGRPCHandler(routingService, log.Logger).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Service.StoreDriver == "memory" {
		store := memstore.New()
		if err := seedRoles(store, cfg.Service.SeedRoles); err != nil {
			return nil, err
		}
		log.Warn().Int("seeded_roles", len(cfg.Service.SeedRoles)).Msg("Using in-memory store; data is lost on restart")
		return &stores{
			bills: store, rules: store, workflow: store, directory: store, roles: store,
			couriers: store, assets: store, complaints: store,
			close: func() {},
		}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")

	directory := repository.NewDirectoryRepository(db)
	return &stores{
		bills:      repository.NewBillRepository(db),
		rules:      repository.NewApprovalRulesRepository(db),
		workflow:   repository.NewApprovalWorkflowRepository(db),
		directory:  directory,
		roles:      directory,
		couriers:   repository.NewCourierRepository(db),
		assets:     repository.NewAssetRepository(db),
		complaints: repository.NewComplaintRepository(db),
		close:      db.Close,
	}, nil
}

// seedRoles parses "role:user_id" pairs into the in-memory directory.
func seedRoles(store *memstore.Store, pairs []string) error {
	for _, p := range pairs {
		name, userID, ok := strings.Cut(p, ":")
		if !ok || userID == "" {
			return fmt.Errorf("invalid MEMORY_SEED_ROLES entry %q", p)
		}
		role, err := repository.ParseRole(strings.ToLower(name))
		if err != nil {
			return err
		}
		store.AssignRole(role, repository.Identity{UserID: userID, FullName: userID})
	}
	return nil
}

func drainNATS(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}

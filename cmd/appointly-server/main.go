package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"appointly/backend/internal/calendarsync"
	"appointly/backend/internal/calendarsync/google"
	"appointly/backend/internal/config"
	"appointly/backend/internal/events"
	"appointly/backend/internal/metrics"
	"appointly/backend/internal/service/appointments"
	"appointly/backend/internal/service/availability"
	"appointly/backend/internal/service/schedule"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
	"appointly/backend/internal/store/postgres"
	"appointly/backend/internal/telemetry"
	grpcTransport "appointly/backend/internal/transport/grpc"
	"appointly/backend/internal/transport/httpapi"
)

const serviceName = "appointly-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

type repositories struct {
	appts     store.AppointmentRepository
	schedules store.ScheduleRepository
	blocks    store.BlockRepository
	conns     store.ConnectionRepository
	outbox    store.OutboxRepository
	ping      func(ctx context.Context) error
	close     func() error
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.OtelEndpoint,
		SampleRatio: cfg.OtelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.close(); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	m := metrics.New("appointly")

	entries, err := appointments.ParseCatalog(cfg.CatalogJSON)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		log.Warn("service catalog is empty; every booking will be rejected")
	}
	rules, err := appointments.ParseCancellationRules(cfg.CancellationRules)
	if err != nil {
		return err
	}

	opts := []appointments.Option{appointments.WithMetrics(m)}
	if len(rules) > 0 {
		opts = append(opts, appointments.WithCancellationPolicy(appointments.NewRulePolicy(rules)))
	}
	if cfg.MeetingBaseURL != "" {
		linker, err := appointments.NewRoomLinker(cfg.MeetingBaseURL)
		if err != nil {
			return err
		}
		opts = append(opts, appointments.WithMeetingLinker(linker))
	}

	var (
		connector *calendarsync.Connector
		adapter   *calendarsync.Adapter
		worker    *calendarsync.Worker
	)
	if cfg.GoogleEnabled() {
		oauthCfg := google.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)

		var states calendarsync.StateStore = calendarsync.NewMemoryStateStore()
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer func() { _ = rdb.Close() }()
			states = calendarsync.NewRedisStateStore(rdb, "appointly:oauth:state")
		} else {
			log.Warn("redis.addr not set; oauth state is kept in process memory")
		}

		connector = calendarsync.NewConnector(oauthCfg, states, repos.conns, log)
		adapter = calendarsync.NewAdapter(repos.conns, repos.blocks, repos.appts, oauthCfg, google.NewFactory(), calendarsync.Config{
			Window:         cfg.SyncWindow,
			RequestTimeout: cfg.SyncRequestTimeout,
			MaxRetries:     uint(max(cfg.SyncMaxRetries, 0)),
		}, m, log)
		worker = calendarsync.NewWorker(adapter, cfg.SyncInterval, log)
		opts = append(opts, appointments.WithSyncNotifier(worker))
	} else {
		log.Info("google calendar sync disabled")
	}

	apptSvc := appointments.NewService(repos.appts, appointments.NewStaticCatalog(entries), appointments.Config{MinLeadTime: cfg.MinLeadTime}, log, opts...)
	availSvc := availability.NewService(repos.schedules, repos.blocks, repos.appts, availability.Config{
		MinLeadTime:  cfg.MinLeadTime,
		MaxRangeDays: cfg.AvailabilityMaxRange,
	}, log)
	scheduleSvc := schedule.NewService(repos.schedules, repos.blocks, log)

	deps := httpapi.Deps{
		Appointments: apptSvc,
		Availability: availSvc,
		Schedule:     scheduleSvc,
		Ready:        repos.ping,
		Metrics:      m,
		JWTSecret:    []byte(cfg.JWTSecret),
		Log:          log,
	}
	if connector != nil {
		deps.Connector = connector
		deps.Syncer = adapter
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(deps))

	grpcServer := grpcTransport.NewServer(cfg.GRPCRequestTimeout, log)
	health := grpcTransport.NewHealth(repos.ping, 10*time.Second, log)
	health.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		return err
	}

	relay := events.NewRelay(repos.outbox, events.RelayConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	}, m, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http graceful shutdown failed", slog.Any("err", err))
		}
		grpcTransport.Shutdown(log, grpcServer, cfg.ShutdownTimeout)
		return nil
	})

	return g.Wait()
}

func openRepositories(ctx context.Context, cfg config.Config, log *slog.Logger) (repositories, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		s := memory.New()
		return repositories{
			appts:     s.Appointments(),
			schedules: s.Schedules(),
			blocks:    s.Blocks(),
			conns:     s.Connections(),
			outbox:    s.Outbox(),
			ping:      func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return repositories{}, err
	}
	return repositories{
		appts:     postgres.NewAppointmentRepo(db),
		schedules: postgres.NewScheduleRepo(db),
		blocks:    postgres.NewBlockRepo(db),
		conns:     postgres.NewConnectionRepo(db),
		outbox:    postgres.NewOutboxRepo(db),
		ping:      db.PingContext,
		close:     func() error { return postgres.Close(db) },
	}, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}

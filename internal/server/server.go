package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/ebattle/internal/api"
	"github.com/victornm/ebattle/internal/battle"
	"github.com/victornm/ebattle/internal/event"
	"github.com/victornm/ebattle/internal/leaderboard"
	"github.com/victornm/ebattle/internal/ledger"
	"github.com/victornm/ebattle/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Ledger struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Battle struct {
		DurationSeconds int           `mapstructure:"duration_seconds"`
		MaxParticipants int           `mapstructure:"max_participants"`
		AllowLateJoin   bool          `mapstructure:"allow_late_join"`
		ScoreScale      int64         `mapstructure:"score_scale"`
		TickInterval    time.Duration `mapstructure:"tick_interval"`
		AutoSettle      bool          `mapstructure:"auto_settle"`
		Retention       time.Duration

		Bot struct {
			Interval time.Duration
			MaxStep  float64 `mapstructure:"max_step"`
		}
	}

	Event struct {
		PoolSize int `mapstructure:"pool_size"`
	}
}

// DefaultConfig returns the configuration used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Battle.DurationSeconds = battle.DefaultDurationSeconds
	c.Battle.MaxParticipants = battle.DefaultMaxParticipants
	c.Battle.TickInterval = time.Second
	c.Battle.AutoSettle = true
	c.Battle.Retention = battle.DefaultRetention
	c.Battle.Bot.Interval = 2 * time.Second
	c.Battle.Bot.MaxStep = 3
	c.Event.PoolSize = 1000
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			ledger *pgxpool.Pool
		}
	}

	service struct {
		battle      *battle.Service
		leaderboard *leaderboard.Service
		ledger      *ledger.Service
	}

	api  *api.API
	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(event.WithPoolSize(c.Event.PoolSize))

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.ledger, err = connect(s.c.Postgres.Ledger.Addr, s.c.Postgres.Ledger.User, s.c.Postgres.Ledger.Pass, s.c.Postgres.Ledger.Name)
	if err != nil {
		return fmt.Errorf("postgres: ledger: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.service.ledger = ledger.NewService(ledger.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.ledger,
	})

	if err := s.service.ledger.Migrate(ctx); err != nil {
		return err
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	bc := battle.Config{
		EventBus:        s.eb,
		DurationSeconds: s.c.Battle.DurationSeconds,
		MaxParticipants: s.c.Battle.MaxParticipants,
		AllowLateJoin:   s.c.Battle.AllowLateJoin,
		ScoreScale:      s.c.Battle.ScoreScale,
		TickInterval:    s.c.Battle.TickInterval,
		AutoSettle:      s.c.Battle.AutoSettle,
		Retention:       s.c.Battle.Retention,
	}
	bc.Bot.Interval = s.c.Battle.Bot.Interval
	bc.Bot.MaxStep = s.c.Battle.Bot.MaxStep

	s.service.battle = battle.NewService(bc)

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPMiddleware())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	s.api = api.New(api.Config{
		HTTP:         e,
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Battle:       s.service.battle,
		Leaderboard:  s.service.leaderboard,
		Ledger:       s.service.ledger,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// Shutdown stops accepting requests, then the background session work, then drains the event bus.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.api.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.battle.Stop()
	s.eb.Stop()

	s.infra.postgres.ledger.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

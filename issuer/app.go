package issuer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/vcard/internal/events"
	"github.com/alovak/vcard/internal/expiry"
	"github.com/alovak/vcard/internal/middleware"
	"github.com/alovak/vcard/internal/pool"
	"github.com/alovak/vcard/issuer/network"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the issuer service
// and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config

	cancel context.CancelFunc
	pool   *pool.Pool
	db     *sql.DB
	events *events.Publisher
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "issuer"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.configureExpiry()

	repository, err := a.openRepository(ctx)
	if err != nil {
		return err
	}

	issued, err := repository.IssuedNumbers(ctx)
	if err != nil {
		return fmt.Errorf("listing issued card numbers: %w", err)
	}

	poolOpts := []pool.Option{pool.WithLogger(a.logger)}
	if a.config.PoolSnapshot != "" {
		poolOpts = append(poolOpts, pool.WithSnapshotStore(pool.NewFileSnapshotStore(a.config.PoolSnapshot)))
	}
	a.pool, err = pool.New(a.config.Pool, issued, poolOpts...)
	if err != nil {
		return fmt.Errorf("creating identifier pool: %w", err)
	}
	if err := a.pool.EnsureFresh(ctx); err != nil {
		return fmt.Errorf("preparing identifier pool: %w", err)
	}

	interval := a.config.PoolRefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pool.Run(ctx, interval)
	}()

	var publisher EventPublisher = events.Nop{}
	if a.config.RedisAddr != "" {
		a.events = events.NewPublisher(redis.NewClient(&redis.Options{Addr: a.config.RedisAddr}), a.config.RedisStream)
		publisher = a.events
		a.logger.Info("publishing events", slog.String("redis", a.config.RedisAddr), slog.String("stream", a.config.RedisStream))
	}

	iss := NewService(repository, a.pool, a.config,
		WithLogger(a.logger),
		WithEventPublisher(publisher),
	)

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(iss)
	api.AppendRoutes(router)

	router.Method(http.MethodPost, "/network/authorizations", network.NewHandler(iss, a.logger))

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := iss.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if s := a.pool.Stats(); s.Size == 0 {
			http.Error(w, "identifier pool empty", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) configureExpiry() {
	if a.config.ExpiryTZ != "" {
		if loc, err := time.LoadLocation(a.config.ExpiryTZ); err == nil {
			expiry.SetDefaultExpiryLocation(loc)
		} else {
			a.logger.Info("invalid expiry_tz; using default UTC", slog.String("tz", a.config.ExpiryTZ), "err", err)
		}
	}
	if len(a.config.ProductYears) > 0 {
		expiry.SetProductYears(a.config.ProductYears)
	}
}

func (a *App) openRepository(ctx context.Context) (Repository, error) {
	switch a.config.StoreBackend {
	case "", "file":
		repo, err := NewFileRepository(a.config.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		a.logger.Info("using file store", slog.String("dir", a.config.DataDir))
		return repo, nil
	case "mem":
		a.logger.Warn("using in-memory store; cards are lost on restart")
		return NewRepository(), nil
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("db_dsn is required for the pg store")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db

		repo := NewPGRepository(db, []byte(a.config.PANHashKey))
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
		a.logger.Info("using postgres store")
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported store_backend %q", a.config.StoreBackend)
	}
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()
	if a.pool != nil {
		a.pool.Wait()
	}

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("closing redis client", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing database", "err", err)
		}
	}

	a.logger.Info("app stopped")
}

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	cfg "github.com/example/appbase/internal/config"
)

type App struct {
	DB          DB
	store       FileStore
	codec       *TokenCodec
	cfg         *cfg.Config
	rateLimiter *RateLimiter
	metrics     *Metrics
	dispatcher  *Dispatcher
	payments    *NowPaymentsClient
}

func (a *App) router() *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)
	r.Use(a.RateLimit)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/", a.HandleRoot).Methods("GET")
	r.HandleFunc("/app/settings", a.HandleAppSettings).Methods("GET")

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/signup", a.HandleSignup).Methods("POST")
	auth.HandleFunc("/login", a.HandleLogin).Methods("POST")
	auth.HandleFunc("/refresh", a.HandleRefresh).Methods("POST")
	auth.HandleFunc("/forgot-password", a.HandleForgotPassword).Methods("POST")
	auth.HandleFunc("/reset-password", a.HandleResetPassword).Methods("POST")
	auth.HandleFunc("/verify-email", a.HandleVerifyEmail).Methods("POST")
	auth.Handle("/logout", a.RequireAuth(http.HandlerFunc(a.HandleLogout))).Methods("POST")

	user := r.PathPrefix("/user").Subrouter()
	user.Use(a.RequireAuth)
	user.HandleFunc("/profile", a.HandleGetProfile).Methods("GET")
	user.HandleFunc("/settings", a.HandleGetSettings).Methods("GET")
	user.HandleFunc("/settings", a.HandleUpdateSettings).Methods("PUT")
	user.HandleFunc("/change-password", a.HandleChangePassword).Methods("POST")
	user.HandleFunc("/avatar", a.HandleUploadAvatar).Methods("POST")
	user.HandleFunc("/delete-account", a.HandleDeleteAccount).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/login", a.HandleAdminLogin).Methods("POST")
	adminOnly := admin.PathPrefix("/").Subrouter()
	adminOnly.Use(a.RequireAdmin)
	adminOnly.HandleFunc("/settings", a.HandleGetAdminSettings).Methods("GET")
	adminOnly.HandleFunc("/settings", a.HandleUpdateAdminSettings).Methods("PUT")
	adminOnly.HandleFunc("/users", a.HandleListUsers).Methods("GET")

	files := r.PathPrefix("/files").Subrouter()
	files.Use(a.RequireAuth)
	files.HandleFunc("/upload", a.HandleUploadFile).Methods("POST")
	files.HandleFunc("/{id}", a.HandleDownloadFile).Methods("GET")
	files.HandleFunc("/{id}", a.HandleDeleteFile).Methods("DELETE")

	payments := r.PathPrefix("/payments").Subrouter()
	payments.Handle("/create-invoice", a.RequireAuth(http.HandlerFunc(a.HandleCreateInvoice))).Methods("POST")
	payments.HandleFunc("/confirmation", a.HandlePaymentWebhook).Methods("POST")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	initLogger(c.LogLevel, c.LogFormat)

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			logger.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		logger.Info("applying database migrations")
		if err := ApplyMigrations("./migrations", c.PostgresDSN); err != nil {
			logger.Fatalf("migrations: %v", err)
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres init: %v", err)
		}
		db = p
		logger.Info("connected to PostgreSQL database")
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		logger.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
	if err := db.Init(); err != nil {
		logger.Fatalf("db init: %v", err)
	}

	var store FileStore
	switch c.StorageAdapter {
	case "s3":
		s, err := NewS3Store(c)
		if err != nil {
			logger.Fatalf("s3 init: %v", err)
		}
		store = s
	default:
		l, err := NewLocalStore(c.UploadDir)
		if err != nil {
			logger.Fatalf("local store init: %v", err)
		}
		store = l
	}

	app := &App{
		DB:          db,
		store:       store,
		codec:       NewTokenCodec([]byte(c.JwtSecret), time.Duration(c.AccessTokenDays)*24*time.Hour),
		cfg:         c,
		rateLimiter: NewRateLimiter(120),
		metrics:     NewMetrics(prometheus.DefaultRegisterer),
	}

	if c.NowPaymentsAPIKey != "" {
		app.payments = NewNowPaymentsClient(c.NowPaymentsAPIKey)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.RedisAddr != "" {
		rdb, err := newRedisClient(c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			logger.Fatalf("redis init: %v", err)
		}
		defer rdb.Close()
		app.dispatcher = NewDispatcher(rdb)

		for _, stream := range []string{streamSignups, streamPayments} {
			consumer := NewConsumer(rdb, stream, func(stream string, payload []byte) {
				logger.WithFields(map[string]interface{}{
					"stream":  stream,
					"payload": string(payload),
				}).Info("event consumed")
			})
			go consumer.Run(ctx)
		}
	}

	srv := &http.Server{
		Handler:      app.router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("port", c.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown failed: %v", err)
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	logger.Info("server exited")
}

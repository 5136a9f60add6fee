package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/idtoken"

	"seating/cache"
	"seating/config"
	"seating/metrics"
	"seating/queue"
	"seating/solver"
)

//go:embed schema.sql
var schema string

type server struct {
	cfg       config.Config
	db        *sql.DB
	cache     cache.Cache
	publisher queue.Publisher
	allocator *solver.Allocator
	log       *log.Logger
}

func main() {
	configPath := flag.String("config", os.Getenv("SEATING_CONFIG"), "path to a TOML config file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           log.InfoLevel,
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "err", err)
	}

	db, err := sql.Open("postgres", cfg.PGConn)
	if err != nil {
		logger.Fatal("failed to open database", "err", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to connect to database", "err", err)
	}
	logger.Info("connected to database")

	if _, err := db.Exec(schema); err != nil {
		logger.Fatal("failed to apply schema", "err", err)
	}

	var planCache cache.Cache = cache.NewNullCache()
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, plan cache disabled", "err", err)
		} else {
			planCache = rc
			logger.Info("plan cache enabled", "addr", cfg.Redis.Addr)
		}
	}
	defer planCache.Close()

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher = queue.NewAMQPPublisher(cfg.AMQPURL)
	}

	collector, err := metrics.New(prometheus.DefaultRegisterer, "seating")
	if err != nil {
		logger.Fatal("failed to register metrics", "err", err)
	}

	opts, err := cfg.Allocation.SolverOptions()
	if err != nil {
		logger.Fatal("invalid allocation settings", "err", err)
	}
	opts.Logger = logger.WithPrefix("solver")
	opts.Metrics = collector

	s := &server{
		cfg:       cfg,
		db:        db,
		cache:     planCache,
		publisher: publisher,
		allocator: solver.NewAllocator(opts),
		log:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/google/callback", s.handleGoogleCallback)
	mux.HandleFunc("GET /api/admin/check", s.handleAdminCheck)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("DELETE /api/rooms/{roomID}", s.handleDeleteRoom)
	mux.HandleFunc("POST /api/students", s.handleImportStudents)
	mux.HandleFunc("POST /api/timetable", s.handleAddTimetable)
	mux.HandleFunc("POST /api/sessions/{date}/{timeCode}/seating", s.handleAllocate)
	mux.HandleFunc("GET /api/sessions/{date}/{timeCode}/seating", s.handleGetSeating)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	logger.Info("listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, s.logRequests(mux)); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start).Round(time.Millisecond))
	})
}

func (s *server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	credential := r.FormValue("credential")
	if credential == "" {
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	payload, err := idtoken.Validate(r.Context(), credential, s.cfg.ClientID)
	if err != nil {
		s.log.Warn("failed to validate token", "err", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		http.Error(w, "token has no email", http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{
		"email":   email,
		"name":    payload.Claims["name"],
		"picture": payload.Claims["picture"],
		"token":   signEmail(s.cfg.ClientSecret, email),
	})
}

func signEmail(secret, email string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(secret string, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(signEmail(secret, email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func (s *server) isAdmin(email string) bool {
	return slices.ContainsFunc(s.cfg.Admins, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), email)
	})
}

func (s *server) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(s.cfg.ClientSecret, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !s.isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func (s *server) handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(s.cfg.ClientSecret, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]bool{"admin": s.isAdmin(email)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/dbopen"
	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/reader"
	"github.com/hazyhaar/liseuse/shield"
	"github.com/hazyhaar/liseuse/store"
)

func main() {
	_ = godotenv.Load()

	port := env("PORT", "8086")
	dbPath := env("LISEUSE_DB", "db/liseuse.db")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Service database.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		slog.Error("open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.NewStore(db)

	// Reader configuration (YAML file and/or environment).
	cfg, err := loadReaderConfig()
	if err != nil {
		slog.Error("reader config", "error", err)
		os.Exit(1)
	}

	// Reader service: headless scheduled runs + one-shot browse.
	svc := reader.NewService(st, *cfg, logger)
	defer svc.Close()

	// Channel registry: one engine per connected websocket session.
	registry := reader.NewRegistry(svc.Factory(), logger)
	defer registry.CloseAll()

	scheduler := svc.Scheduler(reader.SchedulerConfig{
		CheckInterval: time.Duration(envInt("SCHEDULE_CHECK_SECONDS", 60)) * time.Second,
	})
	go scheduler.Run(ctx)

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	limiter := shield.NewRateLimiter(shield.DefaultRules(), "/healthz")
	limiter.StartGC(ctx.Done())
	r.Use(limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Synchronous catalog fetch: logs in with the supplied credentials,
	// scrapes the shelf listing, tears the browser down before replying.
	r.Post("/api/browse", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identifier string `json:"identifier"`
			Secret     string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		categories, err := svc.Browse(r.Context(), req.Identifier, req.Secret)
		if err != nil {
			writeError(w, browseStatus(err), err)
			return
		}
		if categories == nil {
			categories = []reader.BookCategory{}
		}
		writeJSON(w, 200, map[string]any{"categories": categories})
	})

	r.Get("/api/queue", func(w http.ResponseWriter, r *http.Request) {
		entries, err := st.ListQueue(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if entries == nil {
			entries = []*store.QueueEntry{}
		}
		writeJSON(w, 200, entries)
	})

	r.Post("/api/queue", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BookReference string `json:"bookReference"`
			BookTitle     string `json:"bookTitle"`
			Position      int    `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if strings.TrimSpace(req.BookReference) == "" {
			writeError(w, 400, errors.New("bookReference is required"))
			return
		}
		entry := &store.QueueEntry{
			ID:            idgen.New(),
			BookReference: strings.TrimSpace(req.BookReference),
			BookTitle:     strings.TrimSpace(req.BookTitle),
			Position:      req.Position,
		}
		if err := st.AddQueueEntry(r.Context(), entry); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 201, entry)
	})

	r.Delete("/api/queue/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteQueueEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	})

	// Schedule-triggered runs have no push channel; this is the only
	// window into one while it is in flight.
	r.Get("/api/runs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, svc.Runs())
	})

	r.Get("/api/history", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		entries, err := st.ListHistory(r.Context(), limit)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if entries == nil {
			entries = []*store.HistoryEntry{}
		}
		writeJSON(w, 200, entries)
	})

	r.Get("/api/schedules", func(w http.ResponseWriter, r *http.Request) {
		schedules, err := st.ListSchedules(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if schedules == nil {
			schedules = []*store.Schedule{}
		}
		writeJSON(w, 200, schedules)
	})

	r.Post("/api/schedules", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QueueEntryID  string `json:"queueEntryId"`
			ScheduledTime int64  `json:"scheduledTime"`
			RepeatType    string `json:"repeatType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if req.ScheduledTime <= 0 {
			writeError(w, 400, errors.New("scheduledTime must be a unix-millisecond timestamp"))
			return
		}
		switch req.RepeatType {
		case "", store.RepeatOnce, store.RepeatDaily, store.RepeatWeekly:
		default:
			writeError(w, 400, errors.New("repeatType must be once, daily or weekly"))
			return
		}
		entry, err := st.GetQueueEntry(r.Context(), req.QueueEntryID)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if entry == nil {
			writeError(w, 404, errors.New("queue entry not found"))
			return
		}
		schedule := &store.Schedule{
			ID:            idgen.New(),
			QueueEntryID:  entry.ID,
			ScheduledTime: req.ScheduledTime,
			RepeatType:    req.RepeatType,
			IsActive:      true,
		}
		if err := st.AddSchedule(r.Context(), schedule); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 201, schedule)
	})

	r.Delete("/api/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	})

	r.Get("/api/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		value, err := st.GetSetting(r.Context(), key)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]string{"key": key, "value": value})
	})

	r.Put("/api/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if err := st.PutSetting(r.Context(), key, req.Value); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]string{"key": key, "value": req.Value})
	})

	r.Method("GET", "/ws", reader.NewChannelServer(registry, st, wsOrigins(), logger))

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// loadReaderConfig builds the reader configuration: the YAML file named by
// CONFIG_PATH when set, overlaid with SITE_*_URL environment variables. The
// site URLs have no default; the service refuses to start without them.
func loadReaderConfig() (*reader.Config, error) {
	var cfg *reader.Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		c, err := reader.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &reader.Config{}
		cfg.ApplyDefaults()
	}

	if v := os.Getenv("SITE_LOGIN_URL"); v != "" {
		cfg.Site.LoginURL = v
	}
	if v := os.Getenv("SITE_APP_URL"); v != "" {
		cfg.Site.AppURL = v
	}
	if v := os.Getenv("SITE_BOOK_URL"); v != "" {
		cfg.Site.BookURL = v
	}
	if cfg.Site.LoginURL == "" || cfg.Site.AppURL == "" || cfg.Site.BookURL == "" {
		return nil, errors.New("site urls are required: set CONFIG_PATH or SITE_LOGIN_URL, SITE_APP_URL and SITE_BOOK_URL")
	}
	return cfg, nil
}

// wsOrigins parses WS_ORIGINS, a comma-separated origin-pattern list for
// the websocket accept check. Empty means same-origin only.
func wsOrigins() []string {
	raw := os.Getenv("WS_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// browseStatus maps a browse failure onto its response code: bad input 400,
// rejected credentials 401, the target site misbehaving 502, otherwise 500.
func browseStatus(err error) int {
	var cfgErr *reader.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 400
	}
	var authErr *reader.AuthenticationError
	if errors.As(err, &authErr) {
		return 401
	}
	var notFound *reader.ElementNotFoundError
	var navTimeout *reader.NavigationTimeoutError
	if errors.As(err, &notFound) || errors.As(err, &navTimeout) {
		return 502
	}
	return 500
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

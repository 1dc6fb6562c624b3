package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leadwire/leadwire/internal/gauth"
	"github.com/leadwire/leadwire/internal/mailer"
	"github.com/leadwire/leadwire/internal/metrics"
	"github.com/leadwire/leadwire/internal/warehouse"
	flag "github.com/spf13/pflag"
)

var (
	//go:embed config.sample.toml
	efs embed.FS
)

func initFlags(ko *koanf.Koanf) {
	// Command line flags.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		log.Info("leadwire")
		log.Info(f.FlagUsages())
		os.Exit(0)
	}

	f.Bool("new-config", false, "generate a new sample config.toml file.")
	f.String("config", "config.toml", "path to the TOML configuration file")
	f.String("server", "127.0.0.1:5000", "web server address to bind on")
	f.StringSlice("sql-directory", []string{"./sql"}, "path to directory with .sql scripts. Can be specified multiple times")
	f.Bool("authorize", false, "run the mail provider's consent flow, save the token and exit")
	f.Bool("version", false, "show current version and build")
	f.Parse(os.Args[1:])

	// Load commandline params.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

func initConfig(ko *koanf.Koanf) {
	log.Info("buildstring", "value", buildString)

	// Generate new config file.
	if ok := ko.Bool("new-config"); ok {
		if err := generateConfig(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("config.toml generated. Edit and run --authorize.")
		os.Exit(0)
	}

	// Load the config file.
	if err := ko.Load(file.Provider(ko.String("config")), toml.Parser()); err != nil {
		slog.Error("error reading config", "error", err)
		os.Exit(1)
	}

	opts, err := logOpts(ko.String("app.log_level"))
	if err != nil {
		log.Error("incorrect log level in app", "error", err)
		os.Exit(1)
	}

	// Override the logger according to level
	log = slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func logOpts(level string) (*slog.HandlerOptions, error) {
	opts := &slog.HandlerOptions{}
	switch level {
	case "DEBUG":
		opts.Level = slog.LevelDebug
	case "INFO", "":
		opts.Level = slog.LevelInfo
	case "ERROR":
		opts.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	return opts, nil
}

func generateConfig() error {
	if _, err := os.Stat("config.toml"); !os.IsNotExist(err) {
		return errors.New("config.toml exists. Remove it to generate a new one")
	}

	// Generate config file.
	b, err := efs.ReadFile("config.sample.toml")
	if err != nil {
		return fmt.Errorf("error reading sample config: %v", err)
	}

	if err := os.WriteFile("config.toml", b, 0644); err != nil {
		return err
	}

	return nil
}

// initWarehouse reads the warehouse config. The connection itself is opened
// lazily on the first query.
func initWarehouse(ko *koanf.Koanf) (*warehouse.Manager, error) {
	var cfg warehouse.Config
	if err := ko.Unmarshal("warehouse", &cfg); err != nil {
		return nil, fmt.Errorf("error reading warehouse config: %w", err)
	}
	if cfg.Type == "" {
		cfg.Type = warehouse.TypeSnowflake
	}

	return warehouse.New(cfg, log), nil
}

func initCredentials(ko *koanf.Koanf) (*gauth.Credentials, error) {
	cfg, err := gauth.LoadConfig(ko.MustString("mail.credentials_file"), mailer.Scope)
	if err != nil {
		return nil, err
	}

	return gauth.NewCredentials(cfg,
		&gauth.TokenFile{Path: ko.MustString("mail.token_file")},
		gauth.Opt{Interactive: ko.Bool("mail.interactive")},
		log), nil
}

func initMailer(ko *koanf.Koanf, creds *gauth.Credentials) *mailer.Dispatcher {
	// An unset or empty mail.bcc means DefaultBcc.
	return mailer.New(ko.String("mail.sender"), ko.String("mail.bcc"), mailer.NewGmail(creds), log)
}

// newRouter registers the HTTP handlers.
func newRouter(h *Handlers, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Request logging middleware.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.log.Debug("server received request",
				"method", r.Method,
				"header", r.Header,
				"uri", r.RequestURI,
				"remote-address", r.RemoteAddr,
				"content-length", r.ContentLength,
			)

			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		h.sendResponse(w, fmt.Sprintf("leadwire %s", buildString))
	})
	r.Post("/run_script", h.handleRunScript)
	r.Post("/send_emails", h.handleSendEmails)
	r.Get("/queries", h.handleGetQueries)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// initHTTP runs the HTTP server until ctx is cancelled.
func initHTTP(ctx context.Context, h *Handlers, ko *koanf.Koanf) error {
	origins := ko.Strings("app.cors_origins")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	srv := &http.Server{
		Addr:              ko.String("server"),
		Handler:           newRouter(h, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(sctx)
}

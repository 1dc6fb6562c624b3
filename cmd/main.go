package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/leadwire/leadwire/internal/mailer"
	"github.com/leadwire/leadwire/internal/queries"
	"github.com/leadwire/leadwire/internal/warehouse"

	// Clickhouse, MySQL and Postgres drivers. Snowflake registers itself
	// through the warehouse package.
	_ "github.com/ClickHouse/clickhouse-go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Handlers holds all application dependencies
type Handlers struct {
	wh       *warehouse.Manager
	mail     *mailer.Dispatcher
	queries  queries.Queries
	validate *validator.Validate

	// Name of the query /run_script runs.
	defaultQuery string

	log *slog.Logger
}

var (
	buildString = "unknown"

	// Initially, set the logger as default
	log *slog.Logger = slog.Default()
	ko               = koanf.New(".")
)

func main() {
	initFlags(ko)

	if ko.Bool("version") {
		fmt.Println(buildString)
		os.Exit(0)
	}

	initConfig(ko)

	// Load environment variables and merge into the loaded config.
	if err := ko.Load(env.Provider("LEADWIRE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LEADWIRE_")), "__", ".", -1)
	}), nil); err != nil {
		log.Error("error loading config from env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := initCredentials(ko)
	if err != nil {
		log.Error("could not initialise mail credentials", "error", err)
		os.Exit(1)
	}

	// Run the consent flow, cache the token and quit.
	if ko.Bool("authorize") {
		if err := creds.Authorize(ctx); err != nil {
			log.Error("authorization failed", "error", err)
			os.Exit(1)
		}
		log.Info("authorized. Start the server without --authorize")
		return
	}

	qs, err := queries.Load(ko.MustStrings("sql-directory"), log)
	if err != nil {
		log.Error("could not load queries", "error", err)
		os.Exit(1)
	}

	defQuery := ko.String("app.default_query")
	if _, err := qs.Get(defQuery); err != nil {
		log.Error("app.default_query not found in loaded queries", "query", defQuery, "available", qs.Names())
		os.Exit(1)
	}

	wh, err := initWarehouse(ko)
	if err != nil {
		log.Error("could not initialise warehouse", "error", err)
		os.Exit(1)
	}
	defer wh.Close()

	app := &Handlers{
		wh:           wh,
		mail:         initMailer(ko, creds),
		queries:      qs,
		validate:     validator.New(),
		defaultQuery: defQuery,
		log:          log,
	}

	log.Info("starting server", "default_query", defQuery, "warehouse", ko.String("warehouse.type"))

	if err := initHTTP(ctx, app, ko); err != nil {
		log.Error("shutting down http server", "error", err)
	}
}

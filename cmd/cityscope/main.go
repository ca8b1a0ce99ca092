package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/cityscope/cityscope/internal/api"
	"github.com/cityscope/cityscope/internal/auth"
	"github.com/cityscope/cityscope/internal/etl"
	"github.com/cityscope/cityscope/internal/ibge"
	"github.com/cityscope/cityscope/internal/store"
)

type Globals struct {
	DB        string `env:"DB_PATH" default:"data/cityscope.db" help:"Path to the SQLite database."`
	LogLevel  string `env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat string `env:"LOG_FORMAT" default:"console" enum:"console,json" help:"Log output format."`

	LocalidadesURL string `env:"IBGE_LOCALIDADES_URL" default:"${localidades_url}" help:"IBGE localidades API base URL."`
	SidraURL       string `env:"IBGE_SIDRA_URL" default:"${sidra_url}" help:"IBGE SIDRA API base URL."`
}

type ServeCmd struct {
	Addr            string        `env:"LISTEN_ADDR" default:":8080" help:"HTTP listen address."`
	JWTSecret       string        `env:"JWT_SECRET" required:"" help:"Secret for signing JWT tokens."`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" default:"15m" help:"Access token lifetime."`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" default:"336h" help:"Refresh token lifetime."`
	InsecureCookies bool          `env:"DEV_INSECURE_COOKIES" help:"Allow the refresh cookie over plain HTTP (local dev only)."`
	RefreshEvery    time.Duration `env:"ETL_REFRESH_INTERVAL" help:"Re-run the ETL pipeline at this interval (0 disables)."`
}

type ETLCmd struct {
	Run        ETLRunCmd        `cmd:"" help:"Run the full pipeline: cities, population, density."`
	Cities     ETLCitiesCmd     `cmd:"" help:"Load the IBGE municipality list."`
	Population ETLPopulationCmd `cmd:"" help:"Load population estimates from SIDRA."`
	Density    ETLDensityCmd    `cmd:"" help:"Derive population density from stored data."`
}

type (
	ETLRunCmd        struct{}
	ETLCitiesCmd     struct{}
	ETLPopulationCmd struct{}
	ETLDensityCmd    struct{}
)

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" help:"Run the HTTP API server."`
	ETL   ETLCmd   `cmd:"" help:"Run data loading stages."`
}

type app struct {
	store  *store.Store
	client *ibge.Client
	log    zerolog.Logger
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cityscope"),
		kong.Description("Brazilian municipal demographic indicators service."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.Vars{
			"localidades_url": ibge.DefaultLocalidadesURL,
			"sidra_url":       ibge.DefaultSidraURL,
		},
	)

	logger := newLogger(cli.LogLevel, cli.LogFormat)

	db, err := store.Open(cli.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	a := &app{
		store:  st,
		client: ibge.NewClient(ibge.WithBaseURLs(cli.LocalidadesURL, cli.SidraURL)),
		log:    logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(a)
	kctx.FatalIfErrorf(kctx.Run())
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func (c *ServeCmd) Run(ctx context.Context, a *app) error {
	tokens, err := auth.NewTokenManager(c.JWTSecret, c.AccessTokenTTL, c.RefreshTokenTTL)
	if err != nil {
		return err
	}

	if c.RefreshEvery > 0 {
		go runPeriodicETL(ctx, a, c.RefreshEvery)
	}

	server := api.NewServer(a.store, tokens, c.Addr, !c.InsecureCookies, a.log)
	return server.Run(ctx)
}

func runPeriodicETL(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("etl refresh loop shutting down")
			return
		case <-ticker.C:
			result := newPipeline(a).Run(ctx)
			if result.Aborted {
				a.log.Error().Err(result.Err()).Msg("scheduled etl run aborted")
			}
		}
	}
}

func newPipeline(a *app, stages ...etl.Stage) *etl.Pipeline {
	if len(stages) == 0 {
		stages = []etl.Stage{
			etl.NewCityLoader(a.store, a.client, a.log),
			etl.NewPopulationLoader(a.store, a.client, a.log),
			etl.NewDensityStage(a.store, a.log),
		}
	}
	return etl.NewPipeline(a.store, a.log, stages...)
}

func runStages(ctx context.Context, a *app, stages ...etl.Stage) error {
	result := newPipeline(a, stages...).Run(ctx)
	for _, sr := range result.Stages {
		fmt.Printf("%-12s %-11s created=%d updated=%d skipped=%d\n",
			sr.Stage, sr.Status, sr.Summary.Created, sr.Summary.Updated, sr.Summary.Skipped)
	}
	if result.Aborted {
		return fmt.Errorf("pipeline aborted: %w", result.Err())
	}
	if soft := softFailures(result); len(soft) > 0 {
		fmt.Printf("stages with missing prerequisites: %s\n", strings.Join(soft, ", "))
	}
	return nil
}

func softFailures(result etl.Result) []string {
	var names []string
	for _, sr := range result.Stages {
		if sr.Status == etl.StatusSoftFailed {
			names = append(names, sr.Stage)
		}
	}
	return names
}

func (c *ETLRunCmd) Run(ctx context.Context, a *app) error {
	return runStages(ctx, a)
}

func (c *ETLCitiesCmd) Run(ctx context.Context, a *app) error {
	return runStages(ctx, a, etl.NewCityLoader(a.store, a.client, a.log))
}

func (c *ETLPopulationCmd) Run(ctx context.Context, a *app) error {
	return runStages(ctx, a, etl.NewPopulationLoader(a.store, a.client, a.log))
}

func (c *ETLDensityCmd) Run(ctx context.Context, a *app) error {
	return runStages(ctx, a, etl.NewDensityStage(a.store, a.log))
}

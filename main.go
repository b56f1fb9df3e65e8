package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"shop-service/config"
	"shop-service/consumers"
	"shop-service/controllers"
	"shop-service/database"
	"shop-service/rabbitmq"
	"shop-service/routes"
	"shop-service/services"
	"shop-service/utils"
)

func main() {
	app := &cli.App{
		Name:  "shop-service",
		Usage: "product catalog and order API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "dotenv file loaded before reading the environment",
				EnvVars: []string{"ENV_FILE"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the order event consumer",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply the MySQL schema migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "revert the latest migration"},
				},
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "issue an access token for an existing user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Required: true},
				},
				Action: issueToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("shop-service failed")
	}
}

func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.GinMode == gin.DebugMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)
	return cfg, nil
}

func mysqlConfig(cfg *config.Config) database.MySQLConfig {
	return database.MySQLConfig{
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	if cfg.StoreDriver == config.DriverMySQL {
		if cfg.MigrateOnStart {
			if err := database.MigrateMySQL(mysqlConfig(cfg), false); err != nil {
				return nil, err
			}
		}
		return database.NewMySQLStore(ctx, mysqlConfig(cfg))
	}
	return database.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
}

func serve(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	var publisher services.EventPublisher = services.NopPublisher{}
	if cfg.EventsEnabled {
		rmq, err := rabbitmq.NewRabbitMQ(cfg)
		if err != nil {
			return err
		}
		defer rmq.Close()

		if err := rmq.SetupQueues(); err != nil {
			return errors.Wrap(err, "setup RabbitMQ queues")
		}
		publisher = rmq

		consumerCh, err := rmq.ConsumerChannel(10)
		if err != nil {
			return err
		}
		processor := consumers.NewProcessor(store.Products(), cfg.LowStockThreshold)
		g.Go(func() error {
			return consumers.StartOrderConsumer(ctx, consumerCh, cfg, processor)
		})
	} else {
		log.Warn().Msg("Order events disabled")
	}

	opts := services.Options{
		DefaultPageLimit:   cfg.DefaultPageLimit,
		MaxPageLimit:       cfg.MaxPageLimit,
		AllowNegativeStock: cfg.AllowNegativeStock,
	}
	router := routes.NewRouter(routes.Deps{
		Products:  controllers.NewProductController(services.NewProductService(store, opts)),
		Orders:    controllers.NewOrderController(services.NewOrderService(store, publisher, opts)),
		Users:     store.Users(),
		Store:     store,
		JWTSecret: cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func migrate(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverMySQL {
		return errors.Errorf("migrations apply to the mysql store only, STORE_DRIVER is %q", cfg.StoreDriver)
	}
	return database.MigrateMySQL(mysqlConfig(cfg), c.Bool("down"))
}

func issueToken(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer store.Close(ctx)

	user, err := store.Users().FindByID(ctx, c.String("user-id"))
	if err != nil {
		return errors.Wrapf(err, "find user %s", c.String("user-id"))
	}

	token, err := utils.GenerateToken(cfg.JWTSecret, user.ID, cfg.JWTExpiresIn)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write([]byte(token + "\n"))
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/pairpad/internal/api"
	"github.com/manpreetbhatti/pairpad/internal/config"
	"github.com/manpreetbhatti/pairpad/internal/logging"
	"github.com/manpreetbhatti/pairpad/internal/persist"
	"github.com/manpreetbhatti/pairpad/internal/room"
	"github.com/manpreetbhatti/pairpad/internal/store"
	"github.com/manpreetbhatti/pairpad/internal/ws"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cmd := &cli.Command{
		Name:  "pairpad",
		Usage: "real-time pair programming rooms",
		Flags: config.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.FromCommand(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.Open(ctx, store.Options{
		Driver:     cfg.StoreDriver,
		SQLitePath: cfg.SQLitePath,
		PGURL:      cfg.PGURL,
		PGMaxConn:  cfg.PGMaxConn,
		RedisAddr:  cfg.RedisAddr,
		RedisDB:    cfg.RedisDB,
	}, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	writer := persist.New(st, cfg.PersistInterval, log.Named("persist"))
	writer.Start()
	// runs after the controller has drained, so the last edits are written
	defer writer.Stop()

	reg := room.NewRegistry(writer, log.Named("room"))
	ctrl := ws.NewController(reg, room.NewBroadcaster(reg, log.Named("room")), writer, ws.Options{
		SendQueue: cfg.SendQueue,
		EditRate:  cfg.EditRate,
		EditBurst: cfg.EditBurst,
	}, log.Named("ws"))

	handler := api.NewRouter(api.New(reg, st, writer, log.Named("api")), ctrl.ServeWS, cfg.CORSAllow)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("pairpad listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.String("env", cfg.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// hijacked websocket connections are not tracked by the server
		err := srv.Shutdown(shutdownCtx)
		if cerr := ctrl.Shutdown(shutdownCtx); cerr != nil {
			log.Warn("sessions did not drain", zap.Error(cerr))
		}
		return err
	})

	return g.Wait()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricewatch/internal/schedule"
	"github.com/sells-group/pricewatch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background refresh runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.New(svc).Router(),
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			schedule.NewRunner(svc, cfg.Refresh).Run(ctx)
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

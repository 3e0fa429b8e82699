package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ladder/internal/api"
	"ladder/internal/command/root"
	"ladder/internal/queue"
	"ladder/internal/signal"
)

var logger = log.WithFields(log.Fields{"app": "server"})

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("jwt-secret", "", "HS256 secret used to verify bearer tokens")
	cmd.Flags().Int("rate-limit", 600, "Requests per minute allowed per user")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the job API",
	Long:  `Exposes job submission, status, listing, outputs and deletion over HTTP`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("jwt-secret")

		if secret == "" {
			return errors.New("--jwt-secret is required")
		}

		cmpt := root.GetComponent(true, true, true, false)
		defer cmpt.Close()

		if err := cmpt.Channel.CreateQueue(queue.RequestQueue); err != nil {
			return errors.Wrapf(err, "unable to declare '%s'", queue.RequestQueue)
		}

		handler := api.New(api.Config{
			Secret:    secret,
			RateLimit: viper.GetInt("rate-limit"),
		}, cmpt.Store, cmpt.Channel, cmpt.Bucket)

		ctx := signal.WatchInterrupt(context.Background(), 15*time.Second)

		return serve(ctx, viper.GetString("listen"), handler)
	},
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("listening on %s", addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down")

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package cmds

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/config"
	"github.com/go-go-golems/ctxrelay/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// SettingsLoader decodes the settings once flags and config are known.
type SettingsLoader func() (*config.Settings, error)

func NewServeCommand(load SettingsLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool registry over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				settings.Server.Address = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.NewApp(ctx, settings)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := app.Close(closeCtx); err != nil {
					log.Error().Err(err).Msg("shutdown incomplete")
				}
			}()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return app.RunEvents(ctx)
			})
			eg.Go(func() error {
				return server.New(app).ListenAndServe(ctx, settings.Server.Address)
			})
			return eg.Wait()
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.address)")
	return cmd
}

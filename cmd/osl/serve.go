package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"osline/internal/app"
	"osline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the SLA scheduler",
		Long:  "Bearer tokens are HS256 JWTs signed with OSLINE_JWT_SECRET. The publishing webhook must send OSLINE_WEBHOOK_SECRET in the X-Osline-Webhook-Secret header.",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				WebhookSecret:          viper.GetString("webhook-secret"),
				AllowLegacyActorHeader: legacyActor,
			}
			if authCfg.JWTSecret == "" && !legacyActor {
				return fmt.Errorf("OSLINE_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if authCfg.WebhookSecret == "" {
					a.Log.Warn("OSLINE_WEBHOOK_SECRET is not set; the posted webhook will reject every call")
				}
				handler, err := server.New(server.Config{
					Workflow: a.Engine,
					Reader:   a.Repo,
					Sweeper:  a.Monitor,
					Metrics:  a.Metrics,
					Log:      a.Log.WithFields(map[string]any{"component": "http"}),
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				if !noScheduler {
					sched, err := a.NewScheduler()
					if err != nil {
						return err
					}
					sched.Start()
					defer func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						if err := sched.Stop(stopCtx); err != nil {
							a.Log.Warn("scheduler stop: %v", err)
						}
					}()
					a.Log.Info("next sla sweep at %s", sched.Next().Format(time.RFC3339))
				}

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving osline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve HTTP only; run sweeps with 'osl sla sweep'")
	return cmd
}

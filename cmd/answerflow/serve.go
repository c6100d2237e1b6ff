package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	agrpc "github.com/jeeves-cluster-organization/answerflow/coreengine/grpc"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve WorkflowService over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			rn, err := a.newRunner()
			if err != nil {
				return err
			}

			ws := agrpc.NewWorkflowServer(a.logger)
			ws.SetRunner(rn)
			srv := agrpc.NewGracefulServer(ws, addr)

			if metricsAddr != "" {
				ms := newMetricsServer(metricsAddr)
				go func() {
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics_server_error", "error", err.Error())
					}
				}()
				a.logger.Info("metrics_server_started", "address", metricsAddr)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = ms.Shutdown(ctx)
				}()
			}

			err = srv.Start(cmd.Context())
			if errors.Is(err, context.Canceled) {
				a.logger.Info("shutdown_completed")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address (empty disables)")
	return cmd
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

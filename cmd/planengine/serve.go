package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"planengine/internal/auth"
	"planengine/internal/httpapi"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr       string
		withDaemon bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			if rt.cfg.Auth.Secret == "" {
				return auth.ErrNoSecret
			}
			if addr == "" {
				addr = rt.cfg.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEngine(ctx, rt)
			if err != nil {
				return err
			}
			defer e.Close()

			api := &httpapi.API{
				Service:    e.service,
				Auth:       auth.NewManager(rt.cfg.Auth.Secret, rt.cfg.Auth.Issuer),
				Principals: e.resolver,
				Log:        rt.log,
				Timeout:    rt.cfg.HTTP.Timeout,
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			daemonDone := make(chan error, 1)
			if withDaemon {
				d, err := e.daemon()
				if err != nil {
					return err
				}
				go func() { daemonDone <- d.Run(ctx) }()
			} else {
				close(daemonDone)
			}

			serveErr := make(chan error, 1)
			go func() {
				rt.log.Info("http server listening", "addr", addr, "workspace", rt.ws.Root)
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					stop()
					<-daemonDone
					return err
				}
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.log.Warn("http shutdown", "err", err)
			}
			<-daemonDone
			rt.log.Info("http server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: http.addr from config)")
	cmd.Flags().BoolVar(&withDaemon, "daemon", false, "Also run the job scheduler in this process")
	return cmd
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tradepost.ai/internal/config"
	"tradepost.ai/internal/logging"
	"tradepost.ai/internal/trade"
	"tradepost.ai/internal/transport/httpadmin"
	"tradepost.ai/internal/transport/ws"
)

var log = logrus.WithField("component", "server")

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "path to tradepost.yaml")
		envFile    = flag.String("env", ".env", "optional .env file seeding TRADEPOST_* variables")
		addr       = flag.String("addr", "", "websocket listen address (overrides server.addr)")
		adminAddr  = flag.String("admin_addr", "", "admin http listen address (overrides server.admin_addr; \"off\" disables)")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.Fatalf("env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *adminAddr != "" {
		cfg.Server.AdminAddr = *adminAddr
	}
	if *adminAddr == "off" {
		cfg.Server.AdminAddr = ""
	}

	logCloser, err := logging.Init(cfg.Log)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	defer logCloser.Close()

	rt, err := openRuntime(cfg)
	if err != nil {
		log.WithError(err).Fatal("open runtime")
	}
	defer rt.Close()

	reg := trade.NewRegistry(trade.RegistryConfig{
		Gateway:         rt.gateway,
		TTL:             cfg.Trade.TTL,
		ReuseActive:     cfg.Trade.ReuseActiveOnOpen,
		Store:           rt.sessions,
		PersistDebounce: cfg.Trade.PersistDebounce,
	})
	if n, err := reg.Load(); err != nil {
		log.WithError(err).Fatal("restore sessions")
	} else if n > 0 {
		log.WithField("sessions", n).Info("restored active sessions")
	}

	hub := ws.NewHub()
	svc := trade.NewService(reg, trade.ServiceOptions{
		Recorder:  rt.recorders(),
		Notifier:  hub,
		Directory: hub,
	})

	ctx, cancel := signalContext()
	defer cancel()

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		_ = svc.NewReaper(cfg.Trade.ReaperInterval).Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte("ok\n"))
	})
	wsSrv := ws.NewServer(svc, hub, ws.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	cmdSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Shutdown does not touch hijacked connections; drop them explicitly.
	cmdSrv.RegisterOnShutdown(func() { hub.CloseAll("server shutting down") })
	servers := []*http.Server{cmdSrv}
	if cfg.Server.AdminAddr != "" {
		admin := httpadmin.NewServer(httpadmin.Options{
			Registry:     reg,
			Gateway:      rt.gateway,
			History:      rt.history,
			LoopbackOnly: true,
		})
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           admin,
			ReadHeaderTimeout: 5 * time.Second,
		})
	} else {
		log.Info("admin endpoints disabled")
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.WithError(err).Error("listener failed")
		cancel()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("websocket handlers still running")
	}
	<-reaperDone
	if err := reg.Flush(shutdownCtx); err != nil {
		log.WithError(err).Warn("final session flush")
	}
	reg.Close()
	log.Info("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

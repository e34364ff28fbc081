package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/web"
)

// sweepInterval is how often idle web sessions are collected.
const sweepInterval = time.Minute

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	e, sessions := buildServer(a)
	defer sessions.Close()
	go sessions.Run(sweepInterval)

	server := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      e,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.logger.Info("starting gh-finder",
		zap.String("addr", server.Addr),
		zap.String("history_backend", a.cfg.History.Backend),
		zap.Bool("follow_enabled", a.cfg.HasGitHubToken()))
	if !a.cfg.HasGitHubToken() {
		a.logger.Warn("no GITHUB_TOKEN set: unauthenticated rate limits apply and follow is disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	a.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// buildServer wires the web layer and returns the router with its sessions.
func buildServer(a *app) (*echo.Echo, *web.SessionManager) {
	sessions := web.NewSessionManager(web.SessionConfig{
		Factory: web.NewControllerFactory(web.ControllerConfig{
			Directory: a.directory,
			Store:     a.store,
			Key:       a.cfg.History.Key,
			Capacity:  a.cfg.Search.RecentCapacity,
			Logger:    a.logger,
			Options:   a.searchOptions(),
		}),
		TTL:     a.cfg.Session.TTL,
		Logger:  a.logger,
		Metrics: a.metrics,
	})

	var following web.Following
	if a.cfg.HasGitHubToken() && a.directory.CanFollow() {
		following = a.directory
	}

	handler := web.NewHandler(web.HandlerConfig{
		Logger:          a.logger,
		Sessions:        sessions,
		Directory:       a.directory,
		Following:       following,
		Gatherer:        a.registry,
		CookieName:      a.cfg.Session.CookieName,
		CookieMaxAge:    a.cfg.Session.CookieMaxAge,
		SuggestionLimit: a.cfg.Search.SuggestionLimit,
		MinQueryLength:  a.cfg.Search.MinQueryLength,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	handler.RegisterRoutes(e)
	return e, sessions
}

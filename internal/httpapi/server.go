// Package httpapi exposes the query API, login and the hub's WebSocket and
// SSE channels over one chi router.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/galadrimteam/quakewatch/internal/auth"
	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/galadrimteam/quakewatch/internal/realtime"
	"github.com/galadrimteam/quakewatch/internal/usgs"
)

// QuakeSource is the upstream the query endpoints read from.
type QuakeSource interface {
	FetchEarthquakes(ctx context.Context, q quake.Query) (*quake.Collection, error)
	FetchEarthquake(ctx context.Context, id string) (*quake.Earthquake, error)
}

type Deps struct {
	Logger *slog.Logger
	Hub    *realtime.Hub
	Quakes QuakeSource
	Feeds  *usgs.FeedSelector
	Auth   auth.Authenticator

	// WSRequireAuth gates the WebSocket and SSE channels behind a valid token.
	WSRequireAuth bool

	// AccessLog receives one line per request. Defaults to stdout.
	AccessLog middleware.LoggerInterface
}

type server struct {
	logger        *slog.Logger
	hub           *realtime.Hub
	quakes        QuakeSource
	feeds         *usgs.FeedSelector
	auth          auth.Authenticator
	wsRequireAuth bool
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := server{
		logger:        logger,
		hub:           d.Hub,
		quakes:        d.Quakes,
		feeds:         d.Feeds,
		auth:          d.Auth,
		wsRequireAuth: d.WSRequireAuth,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(newAccessLogFormatter(d.AccessLog)))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.With(s.userAuthMiddleware).Get("/me", s.handleMe)

		r.Get("/earthquakes", s.handleListEarthquakes)
		r.Get("/earthquakes/{id}", s.handleGetEarthquake)

		r.Get("/feeds", s.handleGetFeeds)
		r.With(s.adminAuthMiddleware).Post("/feeds", s.handleSetFeed)
	})

	r.Group(func(r chi.Router) {
		if s.wsRequireAuth {
			r.Use(s.userAuthMiddleware)
		}
		r.Get("/earthquakes-ws", s.hub.ServeWS)
		r.Get("/earthquakes/stream", s.hub.ServeSSE)
	})

	return r
}

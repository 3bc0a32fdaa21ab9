package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/spaces-realtime/internal/config"
	"github.com/npezzotti/spaces-realtime/internal/database"
	"github.com/npezzotti/spaces-realtime/internal/logging"
	"github.com/npezzotti/spaces-realtime/internal/notify"
	"github.com/npezzotti/spaces-realtime/internal/presence"
	"github.com/npezzotti/spaces-realtime/internal/server"
	"github.com/rs/zerolog"
)

type App struct {
	log            zerolog.Logger
	store          database.Store
	dispatcher     *server.Dispatcher
	tracker        *presence.Tracker
	relay          *notify.Relay
	signingKey     []byte
	allowedOrigins []string
	srv            *http.Server
}

// NewApp registers the routes on mux. mux may already carry other routes,
// such as /metrics.
func NewApp(mux *http.ServeMux, logger zerolog.Logger, d *server.Dispatcher, store database.Store,
	tracker *presence.Tracker, relay *notify.Relay, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		store:          store,
		dispatcher:     d,
		tracker:        tracker,
		relay:          relay,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", a.healthCheck)
	mux.Handle("GET /ws", a.authMiddleware(a.serveWs))
	mux.Handle("POST /api/messages", a.authMiddleware(a.createMessage))
	mux.Handle("GET /api/messages", a.authMiddleware(a.getMessages))
	mux.Handle("PUT /api/messages/read", a.authMiddleware(a.markMessagesRead))
	mux.Handle("GET /api/conversations", a.authMiddleware(a.getConversations))
	mux.Handle("POST /api/spaces/{id}/messages", a.authMiddleware(a.createSpaceMessage))
	mux.Handle("GET /api/spaces/{id}/messages", a.authMiddleware(a.getSpaceMessages))
	mux.Handle("POST /api/notifications", a.authMiddleware(a.createNotification))
	mux.Handle("GET /api/notifications", a.authMiddleware(a.getNotifications))
	mux.Handle("PUT /api/notifications/read", a.authMiddleware(a.markNotificationsRead))
	mux.Handle("GET /api/presence", a.authMiddleware(a.getPresence))
	mux.Handle("GET /api/presence/{id}", a.authMiddleware(a.getUserPresence))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", logging.HeaderRequestId}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)
	h = logging.HTTPMiddleware(logger)(h)

	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

func (a *App) Start() error {
	a.log.Info().Str("addr", a.srv.Addr).Msg("starting server")
	return a.srv.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info().Msg("shutting down HTTP server")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-readroom/internal/chatstore"
	"github.com/npezzotti/go-readroom/internal/config"
	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/server"
	"github.com/npezzotti/go-readroom/internal/tts"
)

// App is the REST and websocket surface in front of the room server.
type App struct {
	log            zerolog.Logger
	db             database.Repository
	srv            *http.Server
	rs             *server.RoomServer
	chat           chatstore.Store
	tts            *tts.Resolver
	signingKey     []byte
	allowedOrigins []string
	historyLimit   int

	generateShortId func() (string, error)
}

func NewApp(mux *http.ServeMux, logger zerolog.Logger, rs *server.RoomServer, db database.Repository,
	chat chatstore.Store, resolver *tts.Resolver, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		rs:             rs,
		chat:           chat,
		tts:            resolver,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		historyLimit:   cfg.HistoryLimit,

		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.HandleFunc("GET /api/rooms/{id}/participants", s.authMiddleware(s.getParticipants))
	mux.HandleFunc("POST /api/rooms/{id}/enter", s.authMiddleware(s.enterRoom))
	mux.HandleFunc("POST /api/rooms/{id}/leave", s.authMiddleware(s.leaveRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}/participants/{userId}", s.authMiddleware(s.kickParticipant))
	mux.HandleFunc("POST /api/rooms/{id}/start", s.authMiddleware(s.startReading))
	mux.HandleFunc("POST /api/rooms/{id}/pause", s.authMiddleware(s.pauseReading))
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.authMiddleware(s.getMessages))

	mux.HandleFunc("GET /api/chapters/{id}", s.authMiddleware(s.getChapter))
	mux.HandleFunc("GET /api/tts", s.authMiddleware(s.getAudio))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

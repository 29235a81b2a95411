package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gwi.com/live-replay/pkg/logging"
)

type RouterOptions struct {
	Logger         *logging.Logger
	MetricsHandler http.Handler
	AllowedOrigins []string
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(CORS(opts.AllowedOrigins))

	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/auth/google/login", apiHandler.GoogleLoginHandler)
		r.Get("/auth/google/callback", apiHandler.GoogleCallbackHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		// Loaded by <audio>/<video> elements, which cannot send a bearer token.
		r.Get("/segment-media/{sessionID}/{segmentID}/{kind}", apiHandler.SegmentMediaHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Chat routes
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Get("/chats/{chatID}", apiHandler.GetChatDetailsHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
			r.Post("/chats/{chatID}/messages", apiHandler.PostMessageHandler)
			r.Post("/messages/{messageID}/feedback", apiHandler.MessageFeedbackHandler)

			// Capture
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Post("/sessions/{sessionID}/interactions", apiHandler.RecordInteractionHandler)
			r.Get("/sessions/{sessionID}/interactions", apiHandler.ListInteractionsHandler)
			r.Get("/sessions/{sessionID}/capture", apiHandler.CaptureHandler)
			r.Post("/upload", apiHandler.UploadHandler)

			// Replay
			r.Get("/sessions/{sessionID}/segments", apiHandler.SessionSegmentsHandler)
			r.Post("/create-session-video", apiHandler.CreateSessionVideoHandler)
			r.Get("/session-video-status/{sessionID}", apiHandler.SessionVideoStatusHandler)
			r.Get("/analyze-session/{sessionID}", apiHandler.AnalyzeSessionHandler)
			r.Get("/segment-info/{sessionID}", apiHandler.SegmentInfoHandler)
		})
	})

	return r
}

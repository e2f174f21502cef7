package adapthttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

// Options configures optional Server behavior.
type Options struct {
	Logger      *zap.Logger
	CORSOrigins []string
	OIDC        OIDCConfig
	// ForwardAuth accepts the Remote-User header set by a trusted reverse
	// proxy. Off by default.
	ForwardAuth bool
	// DevUser is served on every request when set; it bypasses
	// authentication and must only be used in development and tests.
	DevUser *domain.User
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	bmi    *app.BMIService
	charts *app.ChartsService
	likes  *app.LikeStore
	auth   *app.AuthService

	log         *zap.Logger
	corsOrigins []string
	oidc        OIDCConfig
	forwardAuth bool
	devUser     *domain.User
}

// New creates a Server wired to the given application services.
func New(bmi *app.BMIService, charts *app.ChartsService, likes *app.LikeStore, auth *app.AuthService, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		bmi:         bmi,
		charts:      charts,
		likes:       likes,
		auth:        auth,
		log:         log.Named("http"),
		corsOrigins: origins,
		oidc:        opts.OIDC,
		forwardAuth: opts.ForwardAuth,
		devUser:     opts.DevUser,
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(withNoCache)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		api.Get("/config", s.handleConfig)

		api.Route("/auth", func(a chi.Router) {
			a.Post("/register", s.handleRegister)
			a.Post("/login", s.handleLogin)
			a.Post("/logout", s.handleLogout)
			a.Post("/setup", s.handleSetupUser)
			a.Get("/sso/login", s.handleSSOLogin)
			a.Get("/sso/callback", s.handleSSOCallback)
		})

		api.With(s.optionalAuth).Post("/bmi", s.handleBMICalculate)

		api.Group(func(p chi.Router) {
			p.Use(s.authMiddleware)
			p.Get("/me", s.handleMe)
			p.Get("/bmi/recent", s.handleBMIRecent)
			p.Post("/bmi/undo-last", s.handleBMIUndoLast)
			p.Get("/charts/daily", s.handleChartsDaily)

			p.Get("/likes", s.handleLikes)
			p.Post("/forum/questions/{questionID}/like", s.handleToggleQuestionLike)
			p.Post("/forum/questions/{questionID}/answers/{answerID}/like", s.handleToggleAnswerLike)
			p.Post("/forum/reconcile", s.handleReconcile)
		})
	})

	return r
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

type AuthUseCase = usecase.AuthUseCaseInterface

// Broker handles one chat message
type Broker interface {
	Handle(ctx context.Context, req *model.Request) (*model.Response, error)
}

// MemoryManager is the owner facing memory lifecycle
type MemoryManager interface {
	Remember(ctx context.Context, in usecase.RememberInput) (*model.Memory, error)
	Forget(ctx context.Context, owner types.OwnerID, id model.MemoryID) error
	Erase(ctx context.Context, owner types.OwnerID) (*usecase.ErasureReport, error)
	List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.Memory, error)
}

type BudgetReporter interface {
	Status() []model.BudgetState
}

type Server struct {
	router         *chi.Mux
	broker         Broker
	memories       MemoryManager
	budget         BudgetReporter
	authUC         AuthUseCase
	allowedOrigins []string
}

type Options func(*Server)

func WithAuth(authUC AuthUseCase) Options {
	return func(s *Server) {
		s.authUC = authUC
	}
}

func WithBudget(b BudgetReporter) Options {
	return func(s *Server) {
		s.budget = b
	}
}

// WithAllowedOrigins enables CORS for browser clients
func WithAllowedOrigins(origins []string) Options {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func New(broker Broker, memories MemoryManager, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:   r,
		broker:   broker,
		memories: memories,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(s.authUC))

		r.Post("/messages", s.postMessage)

		r.Get("/memories", s.listMemories)
		r.Post("/memories", s.createMemory)
		r.Delete("/memories", s.eraseAccount)
		r.Delete("/memories/{id}", s.deleteMemory)

		if s.budget != nil {
			r.Get("/budget", s.getBudget)
		}
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger logs every request and stores a request scoped logger in the context
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := logging.Default().With("http_request_id", middleware.GetReqID(r.Context()))
		r = r.WithContext(logging.With(r.Context(), logger))

		defer func() {
			logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

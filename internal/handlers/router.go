package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	mW "github.com/eventpay/backend/internal/middleware"
	"github.com/eventpay/backend/internal/services"
)

type RouterConfig struct {
	Engine         *services.TransactionEngine
	Customers      *services.CustomerService
	Authenticator  *mW.Authenticator
	Logger         *zap.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Health reports dependency status; nil means always healthy.
	Health func() error
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mW.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	transactions := NewTransactionHandler(cfg.Engine, cfg.Logger)
	customers := NewCustomerHandler(cfg.Engine, cfg.Customers, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cfg.Authenticator.Middleware)

			r.Route("/transactions", transactions.Routes)
			r.Route("/customers", customers.Routes)
		})
	})

	return r
}

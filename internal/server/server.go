package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/config"
	custommiddleware "storefront/internal/middleware"
	"storefront/internal/ratelimit"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     *sql.DB
	redis  *redis.Client

	Reservations service.ReservationService
}

// Health reports readiness of the server's dependencies.
type Health func() map[string]string

func NewServer(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client, dbHealth Health) *Server {
	// Create router
	router := chi.NewRouter()

	// Add basic middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(nil, cfg.Server.Env == "development"))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"database": dbHealth(),
		})
	})

	// Shared rate limiter backs both the HTTP middleware and the auth
	// service's per-IP login accounting
	limiter := ratelimit.New(redisClient, "rl")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db)
	productRepo := repository.NewProductRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	brandRepo := repository.NewBrandRepository(db)
	cartRepo := repository.NewCartRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Initialize services
	authService := service.NewAuthService(userRepo, refreshTokenRepo, outboxRepo, limiter, logger, cfg.JWT, cfg.Auth)
	catalogService := service.NewCatalogService(productRepo, categoryRepo, brandRepo)
	reservationService := service.NewReservationService(
		reservationRepo,
		logger,
		time.Duration(cfg.Reservation.TTLMinutes)*time.Minute,
		time.Duration(cfg.Reservation.SweepIntervalSec)*time.Second,
	)
	cartService := service.NewCartService(cartRepo, productRepo, reservationService)
	orderService := service.NewOrderService(orderRepo, userRepo, outboxRepo, logger)

	// Initialize handlers
	authHandler := transport.NewAuthHandler(authService, logger)
	catalogHandler := transport.NewCatalogHandler(catalogService, logger)
	cartHandler := transport.NewCartHandler(cartService, logger)
	orderHandler := transport.NewOrderHandler(orderService, logger)

	// Create auth middleware
	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)

	// Auth endpoints get an extra per-client request cap on top of the
	// login accounting inside the service
	authRateLimit := custommiddleware.RateLimitMiddleware(limiter, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.Auth.LoginRateLimit * 2,
		Window:            time.Duration(cfg.Auth.LoginRateWindowSec) * time.Second,
		KeyPrefix:         "http:auth",
	}, logger)

	// Register routes
	router.Group(func(r chi.Router) {
		r.Use(authRateLimit)
		authHandler.RegisterRoutes(r, authMiddleware)
	})
	catalogHandler.RegisterRoutes(router, authMiddleware)
	cartHandler.RegisterRoutes(router, authMiddleware)
	orderHandler.RegisterRoutes(router, authMiddleware)

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config:       cfg,
		logger:       logger,
		db:           db,
		redis:        redisClient,
		Reservations: reservationService,
	}

	return server
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}

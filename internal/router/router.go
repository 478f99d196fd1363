package router

import (
	"net/http"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/config"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/handler"
	mw "github.com/comanda-app/api/internal/middleware"
	"github.com/comanda-app/api/internal/order"
	"github.com/comanda-app/api/internal/payment"
	"github.com/comanda-app/api/internal/session"
	"github.com/comanda-app/api/internal/table"
	"github.com/comanda-app/api/internal/token"
	"github.com/comanda-app/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up. Guest
// endpoints authenticate with per-table bearer tokens inside the handlers;
// staff endpoints sit behind JWT middleware.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	clk := clock.System()

	// Services. Each multi-statement flow builds its store over its own tx;
	// single-statement reads and guarded writes go through the pool-backed
	// queries directly.
	machine := table.NewMachine(pool, func(db database.DBTX) table.Store {
		return database.New(db)
	})
	tokens := token.NewService(queries, clk)
	orders := order.NewService(queries, pool, func(db database.DBTX) order.Store {
		return database.New(db)
	}, clk)
	pix := payment.NewPixProvider(cfg.PixKey, cfg.PixMerchantName, cfg.PixMerchantCity)
	payments := payment.NewService(queries, pool, func(db database.DBTX) payment.Store {
		return database.New(db)
	}, pix, clk)
	sessions := session.NewValidator(queries, orders, clk)

	// Handlers
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	tableHandler := handler.NewTableHandler(queries, machine, sessions, tokens, hub, cfg.PublicBaseURL)
	orderHandler := handler.NewOrderHandler(queries, orders, sessions, hub)
	paymentHandler := handler.NewPaymentHandler(payments, machine, sessions, hub)
	menuHandler := handler.NewMenuHandler(queries)

	// Auth routes (public)
	authHandler.RegisterRoutes(r)

	// WebSocket feed for staff apps (auth via query param)
	r.Get("/ws/tables", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Guest routes: table token checked per-handler where the operation
	// needs it.
	tableHandler.RegisterPublicRoutes(r)
	orderHandler.RegisterPublicRoutes(r)
	paymentHandler.RegisterPublicRoutes(r)
	menuHandler.RegisterPublicRoutes(r)

	// Staff routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Get("/auth/me", authHandler.Me)
		tableHandler.RegisterStaffRoutes(r)
		orderHandler.RegisterStaffRoutes(r)
		paymentHandler.RegisterStaffRoutes(r)
	})

	return r
}

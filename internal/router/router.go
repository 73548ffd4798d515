// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Handlers bundles every handler the router wires up.
type Handlers struct {
	Auth        *handler.AuthHandler
	Books       *handler.BookHandler
	Students    *handler.StudentHandler
	Circulation *handler.CirculationHandler
}

// Register wires all routes onto the Echo instance.
//
// Route map:
//
//	public      /healthz, /v1/auth/*, GET /v1/books*
//	student+    /v1/reservations (place/cancel own), /v1/my/*
//	librarian   issue/return, fulfill, overdue, catalog and student writes
func Register(e *echo.Echo, cfg config.Config, h Handlers, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	// Unauthenticated session endpoints.
	authGroup := e.Group("/v1/auth")
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh", h.Auth.Refresh)
	authGroup.POST("/logout", h.Auth.Logout)

	// Public catalog browsing; guests can search the shelf and inspect a
	// copy's queue before registering. Cached and rate limited when redis
	// is configured.
	public := e.Group("/v1")
	if rdb != nil {
		public.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
		public.Use(middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	}
	public.GET("/books", h.Books.Search)
	public.GET("/books/:ref", h.Books.Get)

	// Everything below needs a valid access token.
	authed := e.Group("/v1")
	authed.Use(middleware.JWTAuth(cfg.JWTSecret))
	authed.Use(middleware.RequireRole(model.RoleLibrarian, model.RoleStudent))
	authed.GET("/me", h.Auth.Me)

	// Reservations: students place and cancel their own, librarians may act
	// for any student. Ownership is enforced inside the handler.
	authed.POST("/reservations", h.Circulation.Reserve)
	authed.DELETE("/reservations/:id", h.Circulation.Cancel)
	authed.GET("/my/loans", h.Circulation.MyLoans)
	authed.GET("/my/reservations", h.Circulation.MyReservations)

	// Desk operations are librarian only.
	desk := e.Group("/v1")
	desk.Use(middleware.JWTAuth(cfg.JWTSecret))
	desk.Use(middleware.RequireRole(model.RoleLibrarian))
	desk.POST("/circulation/issue", h.Circulation.Issue)
	desk.POST("/circulation/return", h.Circulation.Return)
	desk.POST("/reservations/:id/fulfill", h.Circulation.Fulfill)
	desk.GET("/loans/overdue", h.Circulation.Overdue)
	desk.POST("/loans/overdue/remind", h.Circulation.RemindOverdue)
	desk.POST("/books", h.Books.Create)
	desk.POST("/students", h.Students.Create)
	desk.GET("/students/:ref/history", h.Students.History)
}

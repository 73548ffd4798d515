package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/router"
)

func main() {
	// .env is a development convenience; in production the variables come
	// from the real environment.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName,
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer func() { _ = db.Close() }()

	books := repository.NewBookRepo(db)
	loans := repository.NewLoanRepo(db)
	reservations := repository.NewReservationRepo(db)
	students := repository.NewStudentRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	coord := circulation.New(db, books, loans, reservations, students, circulation.Settings{
		FinePerDay:       cfg.FinePerDay,
		MaxActiveLoans:   cfg.MaxActiveLoans,
		LoanDurationDays: cfg.LoanDurationDays,
	})

	h := router.Handlers{
		Auth:        handler.NewAuthHandler(cfg, users, tokens, students),
		Books:       handler.NewBookHandler(books, reservations),
		Students:    handler.NewStudentHandler(students, loans, reservations),
		Circulation: handler.NewCirculationHandler(coord, users, loans, reservations),
	}

	// nil when redis is unreachable; rate limiting and caching then stay off.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting and response cache disabled")
	}

	// Drain circulation events into the audit log. The consumer reconnects
	// on broker failure; a dead broker never blocks the desk.
	go func() {
		if err := queue.StartEventConsumer(); err != nil {
			log.Printf("event consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, h, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// BookHandler serves the catalog read side and librarian catalog writes.
type BookHandler struct {
	Books        *repository.BookRepo
	Reservations *repository.ReservationRepo
}

func NewBookHandler(books *repository.BookRepo, reservations *repository.ReservationRepo) *BookHandler {
	return &BookHandler{Books: books, Reservations: reservations}
}

type createBookReq struct {
	Accession string `json:"accession"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Category  string `json:"category"`
}

type bookView struct {
	ID        uint64 `json:"id"`
	Accession string `json:"accession"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Available bool   `json:"available"`
}

func viewBook(b *model.Book) bookView {
	return bookView{
		ID:        b.ID,
		Accession: b.Accession,
		Title:     b.Title,
		Author:    b.Author,
		Category:  b.Category,
		Status:    string(b.Status),
		Available: b.Available(),
	}
}

// Create adds a copy to the catalog. POST /v1/books (librarian). New copies
// start AVAILABLE.
func (h *BookHandler) Create(c echo.Context) error {
	var req createBookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Accession = strings.TrimSpace(req.Accession)
	req.Title = strings.TrimSpace(req.Title)
	if req.Accession == "" || req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "accession and title required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b := &model.Book{
		Accession: req.Accession,
		Title:     req.Title,
		Author:    strings.TrimSpace(req.Author),
		Category:  strings.TrimSpace(req.Category),
		Status:    model.BookAvailable,
	}
	if err := h.Books.Create(ctx, b); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return c.JSON(http.StatusConflict, echo.Map{"error": "accession number already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create book failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"book": viewBook(b)})
}

// Search lists catalog entries matching ?q= against title, author and
// accession. GET /v1/books
func (h *BookHandler) Search(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	books, err := h.Books.Search(ctx, strings.TrimSpace(c.QueryParam("q")), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	views := make([]bookView, 0, len(books))
	for i := range books {
		views = append(views, viewBook(&books[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"books": views})
}

// Get returns one copy with its reservation queue, pending pickup first.
// GET /v1/books/:ref — ref is the internal id or the accession number.
func (h *BookHandler) Get(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "book reference required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var (
		book *model.Book
		err  error
	)
	if id, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		book, err = h.Books.GetByID(ctx, id)
		if errors.Is(err, repository.ErrBookNotFound) {
			book, err = h.Books.GetByAccession(ctx, ref)
		}
	} else {
		book, err = h.Books.GetByAccession(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	queue, err := h.Reservations.ListQueueByBook(ctx, book.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	qviews := make([]reservationView, 0, len(queue))
	for i := range queue {
		qviews = append(qviews, viewReservation(&queue[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"book":  viewBook(book),
		"queue": qviews,
	})
}

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

// StudentHandler manages borrower records and the librarian view of a
// student's circulation history.
type StudentHandler struct {
	Students     *repository.StudentRepo
	Loans        *repository.LoanRepo
	Reservations *repository.ReservationRepo
}

func NewStudentHandler(students *repository.StudentRepo, loans *repository.LoanRepo,
	reservations *repository.ReservationRepo) *StudentHandler {
	return &StudentHandler{Students: students, Loans: loans, Reservations: reservations}
}

type createStudentReq struct {
	Code       string `json:"code"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

type studentView struct {
	ID         uint64 `json:"id"`
	Code       string `json:"code"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

func viewStudent(s *model.Student) studentView {
	return studentView{ID: s.ID, Code: s.Code, FullName: s.FullName, Email: s.Email, Department: s.Department}
}

// Create registers a borrower record. POST /v1/students (librarian).
func (h *StudentHandler) Create(c echo.Context) error {
	var req createStudentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Code = strings.TrimSpace(req.Code)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Code == "" || req.FullName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and full_name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s := &model.Student{
		Code:       req.Code,
		FullName:   req.FullName,
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Department: strings.TrimSpace(req.Department),
	}
	if err := h.Students.Create(ctx, s); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return c.JSON(http.StatusConflict, echo.Map{"error": "student code already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create student failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"student": viewStudent(s)})
}

// History returns a student's record together with every loan and
// reservation. GET /v1/students/:ref/history (librarian).
func (h *StudentHandler) History(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "student reference required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var (
		student *model.Student
		err     error
	)
	if id, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		student, err = h.Students.GetByID(ctx, id)
		if errors.Is(err, repository.ErrStudentNotFound) {
			student, err = h.Students.GetByCode(ctx, ref)
		}
	} else {
		student, err = h.Students.GetByCode(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "student not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	loans, err := h.Loans.ListByStudent(ctx, student.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	reservations, err := h.Reservations.ListByStudent(ctx, student.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	lviews := make([]loanView, 0, len(loans))
	for i := range loans {
		lviews = append(lviews, viewLoan(&loans[i]))
	}
	rviews := make([]reservationView, 0, len(reservations))
	for i := range reservations {
		rviews = append(rviews, viewReservation(&reservations[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"student":      viewStudent(student),
		"loans":        lviews,
		"reservations": rviews,
	})
}

package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	queue_publisher "github.com/iliyamo/library-circulation/internal/service"
)

// CirculationHandler exposes the desk operations: issue, return, reserve,
// cancel, fulfill and the overdue listing. All writes go through the
// coordinator; the handler only translates HTTP to coordinator calls,
// maps error codes to status codes and publishes events after commit.
type CirculationHandler struct {
	Coord        *circulation.Coordinator
	Users        *repository.UserRepo
	Loans        *repository.LoanRepo
	Reservations *repository.ReservationRepo
}

func NewCirculationHandler(coord *circulation.Coordinator, users *repository.UserRepo,
	loans *repository.LoanRepo, reservations *repository.ReservationRepo) *CirculationHandler {
	return &CirculationHandler{Coord: coord, Users: users, Loans: loans, Reservations: reservations}
}

// ----- DTOs -----

type issueReq struct {
	Book    string `json:"book"`     // internal id or accession number
	Student string `json:"student"`  // internal id or student code
	DueDate string `json:"due_date"` // optional, RFC 3339 or YYYY-MM-DD
}
type returnReq struct {
	LoanID uint64 `json:"loan_id"` // either loan_id or book
	Book   string `json:"book"`
}
type reserveReq struct {
	Book    string `json:"book"`
	Student string `json:"student"` // librarians may reserve on behalf
}

type loanView struct {
	ID         uint64  `json:"id"`
	BookID     uint64  `json:"book_id"`
	StudentID  uint64  `json:"student_id"`
	IssueDate  string  `json:"issue_date"`
	DueDate    string  `json:"due_date"`
	ReturnDate *string `json:"return_date,omitempty"`
	Status     string  `json:"status"`
	Fine       int64   `json:"fine"`
}
type reservationView struct {
	ID         uint64 `json:"id"`
	BookID     uint64 `json:"book_id"`
	StudentID  uint64 `json:"student_id"`
	Status     string `json:"status"`
	ReservedAt string `json:"reserved_at"`
}

func viewLoan(l *model.Loan) loanView {
	v := loanView{
		ID:        l.ID,
		BookID:    l.BookID,
		StudentID: l.StudentID,
		IssueDate: l.IssueDate.UTC().Format(time.RFC3339),
		DueDate:   l.DueDate.UTC().Format(time.RFC3339),
		Status:    string(l.Status),
		Fine:      l.Fine,
	}
	if l.ReturnDate != nil {
		s := l.ReturnDate.UTC().Format(time.RFC3339)
		v.ReturnDate = &s
	}
	return v
}

func viewReservation(r *model.Reservation) reservationView {
	return reservationView{
		ID:         r.ID,
		BookID:     r.BookID,
		StudentID:  r.StudentID,
		Status:     string(r.Status),
		ReservedAt: r.ReservedAt.UTC().Format(time.RFC3339),
	}
}

// respondError maps coordinator error codes onto HTTP statuses. Business
// rule violations are 409: the request was well-formed but the desk rules
// forbid it right now.
func respondError(c echo.Context, err error) error {
	code := circulation.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case code == circulation.CodeNotFound:
		status = http.StatusNotFound
	case code == circulation.CodeValidation:
		status = http.StatusBadRequest
	case circulation.IsBusiness(err), code == circulation.CodeConflict:
		status = http.StatusConflict
	}
	msg := "internal error"
	if status != http.StatusInternalServerError {
		if ce, ok := err.(*circulation.Error); ok {
			msg = ce.Message
		} else {
			msg = err.Error()
		}
	} else {
		c.Logger().Errorf("circulation: %v", err)
	}
	return c.JSON(status, echo.Map{"error": msg, "code": string(code)})
}

// parseDueDate accepts RFC 3339 or a bare date, which becomes end of that
// day in UTC.
func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	u := t.Add(24*time.Hour - time.Second).UTC()
	return &u, nil
}

// Issue hands a copy to a student. POST /v1/circulation/issue
func (h *CirculationHandler) Issue(c echo.Context) error {
	var req issueReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid due_date"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var issuedBy *uint64
	if uid, ok := contextUserID(c); ok {
		issuedBy = &uid
	}

	loan, err := h.Coord.Issue(ctx, circulation.IssueRequest{
		BookRef:    strings.TrimSpace(req.Book),
		StudentRef: strings.TrimSpace(req.Student),
		DueDate:    due,
		IssuedBy:   issuedBy,
	})
	if err != nil {
		return respondError(c, err)
	}

	_ = queue_publisher.Publish(ctx, queue.KindLoanIssued, &queue.LoanEvent{
		LoanID:    loan.ID,
		BookID:    loan.BookID,
		StudentID: loan.StudentID,
		DueDate:   loan.DueDate.UTC().Format(time.RFC3339),
	}, nil)

	return c.JSON(http.StatusCreated, echo.Map{"loan": viewLoan(loan)})
}

// Return checks a copy back in, charges any fine and promotes the next
// reservation. POST /v1/circulation/return
func (h *CirculationHandler) Return(c echo.Context) error {
	var req returnReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ref := strings.TrimSpace(req.Book)
	if req.LoanID != 0 {
		ref = strconv.FormatUint(req.LoanID, 10)
	}
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "loan_id or book required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	result, err := h.Coord.Return(ctx, ref)
	if err != nil {
		return respondError(c, err)
	}

	retAt := ""
	if result.Loan.ReturnDate != nil {
		retAt = result.Loan.ReturnDate.UTC().Format(time.RFC3339)
	}
	_ = queue_publisher.Publish(ctx, queue.KindLoanReturned, &queue.LoanEvent{
		LoanID:     result.Loan.ID,
		BookID:     result.Loan.BookID,
		StudentID:  result.Loan.StudentID,
		DueDate:    result.Loan.DueDate.UTC().Format(time.RFC3339),
		ReturnDate: retAt,
		Fine:       result.Fine,
	}, nil)
	if result.Promoted != nil {
		_ = queue_publisher.Publish(ctx, queue.KindReservationFulfilled, nil, &queue.ReservationEvent{
			ReservationID: result.Promoted.ID,
			BookID:        result.Promoted.BookID,
			StudentID:     result.Promoted.StudentID,
			ReservedAt:    result.Promoted.ReservedAt.UTC().Format(time.RFC3339),
			Status:        string(result.Promoted.Status),
		})
	}

	resp := echo.Map{"loan": viewLoan(result.Loan), "fine": result.Fine}
	if result.Promoted != nil {
		v := viewReservation(result.Promoted)
		resp["promoted_reservation"] = v
	}
	return c.JSON(http.StatusOK, resp)
}

// Reserve places a reservation. POST /v1/reservations
// Students reserve for themselves; librarians may pass any student ref.
func (h *CirculationHandler) Reserve(c echo.Context) error {
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	studentRef := strings.TrimSpace(req.Student)
	role, _ := c.Get("role").(string)
	if role == model.RoleStudent {
		// Students can only act for their own borrower record.
		sid, err := h.linkedStudentID(ctx, c)
		if err != nil {
			return err
		}
		studentRef = strconv.FormatUint(sid, 10)
	}

	res, err := h.Coord.Reserve(ctx, strings.TrimSpace(req.Book), studentRef)
	if err != nil {
		return respondError(c, err)
	}

	_ = queue_publisher.Publish(ctx, queue.KindReservationPlaced, nil, &queue.ReservationEvent{
		ReservationID: res.ID,
		BookID:        res.BookID,
		StudentID:     res.StudentID,
		ReservedAt:    res.ReservedAt.UTC().Format(time.RFC3339),
		Status:        string(res.Status),
	})

	return c.JSON(http.StatusCreated, echo.Map{"reservation": viewReservation(res)})
}

// Cancel cancels a reservation. DELETE /v1/reservations/:id
// Students may only cancel their own.
func (h *CirculationHandler) Cancel(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	role, _ := c.Get("role").(string)
	if role == model.RoleStudent {
		sid, err := h.linkedStudentID(ctx, c)
		if err != nil {
			return err
		}
		existing, err := h.Reservations.GetByID(ctx, id)
		if err != nil {
			if err == repository.ErrReservationNotFound {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found", "code": string(circulation.CodeNotFound)})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
		}
		if existing.StudentID != sid {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
		}
	}

	res, err := h.Coord.CancelReservation(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	_ = queue_publisher.Publish(ctx, queue.KindReservationCancelled, nil, &queue.ReservationEvent{
		ReservationID: res.ID,
		BookID:        res.BookID,
		StudentID:     res.StudentID,
		ReservedAt:    res.ReservedAt.UTC().Format(time.RFC3339),
		Status:        string(res.Status),
	})

	return c.JSON(http.StatusOK, echo.Map{"reservation": viewReservation(res)})
}

// Fulfill marks the queue-head reservation as ready for pickup, pulling the
// copy off the open shelf. POST /v1/reservations/:id/fulfill (librarian).
func (h *CirculationHandler) Fulfill(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Coord.FulfillReservation(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	_ = queue_publisher.Publish(ctx, queue.KindReservationFulfilled, nil, &queue.ReservationEvent{
		ReservationID: res.ID,
		BookID:        res.BookID,
		StudentID:     res.StudentID,
		ReservedAt:    res.ReservedAt.UTC().Format(time.RFC3339),
		Status:        string(res.Status),
	})

	return c.JSON(http.StatusOK, echo.Map{"reservation": viewReservation(res)})
}

// Overdue lists open loans past their due date. GET /v1/loans/overdue
func (h *CirculationHandler) Overdue(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	loans, err := h.Coord.Overdue(ctx)
	if err != nil {
		return respondError(c, err)
	}
	views := make([]loanView, 0, len(loans))
	for i := range loans {
		views = append(views, viewLoan(&loans[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"overdue": views, "count": len(views)})
}

// RemindOverdue publishes a reminder event for every overdue loan and
// stamps the loan so repeated calls within the same day stay quiet.
// POST /v1/loans/overdue/remind (librarian).
func (h *CirculationHandler) RemindOverdue(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	loans, err := h.Coord.Overdue(ctx)
	if err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	sent := 0
	for i := range loans {
		l := &loans[i]
		if l.LastReminderSentAt != nil && now.Sub(*l.LastReminderSentAt) < 24*time.Hour {
			continue
		}
		if err := queue_publisher.Publish(ctx, queue.KindOverdueReminder, &queue.LoanEvent{
			LoanID:    l.ID,
			BookID:    l.BookID,
			StudentID: l.StudentID,
			DueDate:   l.DueDate.UTC().Format(time.RFC3339),
		}, nil); err != nil {
			continue // broker down; try again on the next run
		}
		if err := h.Loans.TouchReminderSent(ctx, l.ID, now); err != nil {
			c.Logger().Errorf("remind: stamp loan %d failed: %v", l.ID, err)
		}
		sent++
	}
	return c.JSON(http.StatusOK, echo.Map{"overdue": len(loans), "reminders_sent": sent})
}

// MyLoans lists the calling student's loans, newest first.
// GET /v1/my/loans
func (h *CirculationHandler) MyLoans(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sid, err := h.linkedStudentID(ctx, c)
	if err != nil {
		return err
	}
	loans, err := h.Loans.ListByStudent(ctx, sid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	views := make([]loanView, 0, len(loans))
	for i := range loans {
		views = append(views, viewLoan(&loans[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"loans": views})
}

// MyReservations lists the calling student's reservations, newest first.
// GET /v1/my/reservations
func (h *CirculationHandler) MyReservations(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sid, err := h.linkedStudentID(ctx, c)
	if err != nil {
		return err
	}
	reservations, err := h.Reservations.ListByStudent(ctx, sid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	views := make([]reservationView, 0, len(reservations))
	for i := range reservations {
		views = append(views, viewReservation(&reservations[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": views})
}

// contextUserID extracts the authenticated user's id from the JWT claims
// stashed by the auth middleware. The sub claim arrives as a float64 after
// JSON decoding.
func contextUserID(c echo.Context) (uint64, bool) {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v), true
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// linkedStudentID resolves the authenticated user's borrower record id. On
// failure it returns an *echo.HTTPError for the caller to pass through.
func (h *CirculationHandler) linkedStudentID(ctx context.Context, c echo.Context) (uint64, error) {
	uid, ok := contextUserID(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusInternalServerError, "load user failed")
	}
	if u.StudentID == nil {
		return 0, echo.NewHTTPError(http.StatusForbidden, "account has no linked student record")
	}
	return *u.StudentID, nil
}

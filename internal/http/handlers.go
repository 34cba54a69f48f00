package http

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/reservation"
)

type HoldService interface {
	CreateHold(ctx context.Context, ownerID string, seatIDs []uuid.UUID) (*domain.Hold, error)
	ReleaseHold(ctx context.Context, ownerID string, holdID uuid.UUID) (*domain.Hold, error)
	GetHold(ctx context.Context, ownerID string, holdID uuid.UUID) (*domain.Hold, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, ownerID string, holdID uuid.UUID, contact domain.Contact) (*domain.Booking, error)
}

type CancellationService interface {
	CancelBooking(ctx context.Context, bookingID uuid.UUID, ownerID, reason, detail string) (*domain.Booking, error)
}

type BookingQueries interface {
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*reservation.BookingView, error)
	GetByNumber(ctx context.Context, ownerID, number string) (*reservation.BookingView, error)
	List(ctx context.Context, ownerID string, filter reservation.ListFilter, page, limit int) (*reservation.BookingPage, error)
}

type SeatLister interface {
	List(ctx context.Context, scheduleID uuid.UUID) ([]domain.Seat, error)
}

// SeatCache holds rendered seat listings. Optional.
type SeatCache interface {
	GetSeats(ctx context.Context, scheduleID uuid.UUID) ([]byte, bool, error)
	SetSeats(ctx context.Context, scheduleID uuid.UUID, data []byte) error
	InvalidateSeats(ctx context.Context, scheduleID uuid.UUID) error
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handlers struct {
	holds    HoldService
	bookings BookingService
	cancel   CancellationService
	queries  BookingQueries
	seats    SeatLister
	cache    SeatCache
	checks   []Check
	validate *validator.Validate
	now      func() time.Time
}

type Deps struct {
	Holds         HoldService
	Bookings      BookingService
	Cancellations CancellationService
	Queries       BookingQueries
	Seats         SeatLister
	Cache         SeatCache
	Checks        []Check
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		holds:    d.Holds,
		bookings: d.Bookings,
		cancel:   d.Cancellations,
		queries:  d.Queries,
		seats:    d.Seats,
		cache:    d.Cache,
		checks:   d.Checks,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (h *Handlers) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid("malformed request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return domain.Invalid("invalid request: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Invalid("invalid %s", name)
	}
	return id, nil
}

func (h *Handlers) invalidateSeats(r *http.Request, scheduleID uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateSeats(r.Context(), scheduleID); err != nil {
		LoggerFrom(r.Context()).WithError(err).Warn("seat cache invalidation failed")
	}
}

// ListSeats serves possibly stale seat status for display. Holds always
// re-check the store, so a stale listing never grants a seat.
func (h *Handlers) ListSeats(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(r.URL.Query().Get("scheduleId"))
	if err != nil {
		writeError(w, r, domain.Invalid("scheduleId query parameter must be a uuid"))
		return
	}

	if h.cache != nil {
		data, ok, err := h.cache.GetSeats(r.Context(), scheduleID)
		if err != nil {
			LoggerFrom(r.Context()).WithError(err).Warn("seat cache read failed")
		}
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	seats, err := h.seats.List(r.Context(), scheduleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slices.SortFunc(seats, func(a, b domain.Seat) int {
		if a.Number < b.Number {
			return -1
		}
		if a.Number > b.Number {
			return 1
		}
		return domain.CompareIDs(a.ID, b.ID)
	})
	data, err := json.Marshal(toSeatResponses(seats))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.SetSeats(r.Context(), scheduleID, data); err != nil {
			LoggerFrom(r.Context()).WithError(err).Warn("seat cache write failed")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hold, err := h.holds.CreateHold(r.Context(), OwnerFrom(r.Context()), req.SeatIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidateSeats(r, hold.ScheduleID)
	writeJSON(w, http.StatusCreated, holdResponse{
		HoldID:     hold.ID,
		ScheduleID: hold.ScheduleID,
		SeatIDs:    hold.SeatIDs,
		ExpiresAt:  hold.ExpiresAt,
	})
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hold, err := h.holds.ReleaseHold(r.Context(), OwnerFrom(r.Context()), req.HoldID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidateSeats(r, hold.ScheduleID)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	hold, err := h.holds.GetHold(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var remaining int64
	if hold.Status == domain.HoldActive {
		remaining = max(int64(hold.ExpiresAt.Sub(h.now())/time.Second), 0)
	}
	writeJSON(w, http.StatusOK, holdResponse{
		HoldID:           hold.ID,
		ScheduleID:       hold.ScheduleID,
		SeatIDs:          hold.SeatIDs,
		Status:           string(hold.Status),
		ExpiresAt:        hold.ExpiresAt,
		RemainingSeconds: &remaining,
	})
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	contact := domain.Contact{Name: req.Name, Phone: req.PhoneNumber}
	booking, err := h.bookings.CreateBooking(r.Context(), OwnerFrom(r.Context()), req.HoldID, contact)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidateSeats(r, booking.ScheduleID)
	writeJSON(w, http.StatusCreated, bookingCreatedResponse{
		BookingID:     booking.ID,
		BookingNumber: booking.Number,
		TotalPrice:    booking.TotalPrice,
	})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	booking, err := h.cancel.CancelBooking(r.Context(), id, OwnerFrom(r.Context()), req.Reason, req.ReasonDetail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidateSeats(r, booking.ScheduleID)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.queries.Get(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(*v))
}

func (h *Handlers) GetBookingByNumber(w http.ResponseWriter, r *http.Request) {
	v, err := h.queries.GetByNumber(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(*v))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Invalid("%s must be a number", name)
	}
	return n, nil
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := listBookingsQuery{Status: r.URL.Query().Get("status")}
	var err error
	if q.Page, err = queryInt(r, "page", 1); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit", reservation.DefaultPageLimit); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(q); err != nil {
		writeError(w, r, domain.Invalid("invalid query: %v", err))
		return
	}

	page, err := h.queries.List(r.Context(), OwnerFrom(r.Context()), reservation.ListFilter(q.Status), q.Page, q.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := bookingListResponse{
		Items:   make([]bookingResponse, len(page.Items)),
		Page:    page.Page,
		Limit:   page.Limit,
		Total:   page.Total,
		HasMore: page.HasMore,
		Counts: bookingCountsResponse{
			Upcoming:  page.Counts.Upcoming,
			Past:      page.Counts.Past,
			Cancelled: page.Counts.Cancelled,
		},
	}
	for i, v := range page.Items {
		resp.Items[i] = toBookingResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			LoggerFrom(r.Context()).WithError(err).WithField("check", c.Name).Warn("not ready")
			writeErrorCode(w, http.StatusServiceUnavailable, "NOT_READY", c.Name+" unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

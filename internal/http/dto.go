package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/reservation"
)

type createHoldRequest struct {
	SeatIDs []uuid.UUID `json:"seatIds" validate:"required,min=1,dive,required"`
}

type holdRequest struct {
	HoldID uuid.UUID `json:"holdId" validate:"required"`
}

type createBookingRequest struct {
	HoldID      uuid.UUID `json:"holdId" validate:"required"`
	Name        string    `json:"name" validate:"omitempty,max=50"`
	PhoneNumber string    `json:"phoneNumber" validate:"omitempty,max=20"`
}

type cancelRequest struct {
	Reason       string `json:"reason" validate:"omitempty,max=64"`
	ReasonDetail string `json:"reasonDetail" validate:"omitempty,max=500"`
}

type listBookingsQuery struct {
	Status string `validate:"omitempty,oneof=confirmed cancelled upcoming past"`
	Page   int    `validate:"min=1"`
	Limit  int    `validate:"min=1,max=50"`
}

type seatResponse struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"`
	Grade  string    `json:"grade"`
	Price  int64     `json:"price"`
	Status string    `json:"status"`
}

type holdResponse struct {
	HoldID           uuid.UUID   `json:"holdId"`
	ScheduleID       uuid.UUID   `json:"scheduleId"`
	SeatIDs          []uuid.UUID `json:"seatIds"`
	Status           string      `json:"status,omitempty"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	RemainingSeconds *int64      `json:"remainingSeconds,omitempty"`
}

type bookingCreatedResponse struct {
	BookingID     uuid.UUID `json:"bookingId"`
	BookingNumber string    `json:"bookingNumber"`
	TotalPrice    int64     `json:"totalPrice"`
}

type bookingSeatResponse struct {
	SeatID uuid.UUID `json:"seatId"`
	Number string    `json:"number"`
	Grade  string    `json:"grade"`
	Price  int64     `json:"price"`
}

type bookingResponse struct {
	BookingID     uuid.UUID             `json:"bookingId"`
	BookingNumber string                `json:"bookingNumber"`
	ScheduleID    uuid.UUID             `json:"scheduleId"`
	Status        string                `json:"status"`
	Seats         []bookingSeatResponse `json:"seats"`
	TotalPrice    int64                 `json:"totalPrice"`
	CreatedAt     time.Time             `json:"createdAt"`
	CancelledAt   *time.Time            `json:"cancelledAt,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	ReasonDetail  string                `json:"reasonDetail,omitempty"`
	Name          string                `json:"name,omitempty"`
	PhoneNumber   string                `json:"phoneNumber,omitempty"`
	IsCancellable bool                  `json:"isCancellable"`
}

type bookingCountsResponse struct {
	Upcoming  int `json:"upcoming"`
	Past      int `json:"past"`
	Cancelled int `json:"cancelled"`
}

type bookingListResponse struct {
	Items   []bookingResponse `json:"items"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"hasMore"`
	Counts  bookingCountsResponse `json:"counts"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func toSeatResponses(seats []domain.Seat) []seatResponse {
	out := make([]seatResponse, len(seats))
	for i, s := range seats {
		out[i] = seatResponse{ID: s.ID, Number: s.Number, Grade: s.Grade, Price: s.Price, Status: string(s.Status)}
	}
	return out
}

func toBookingResponse(v reservation.BookingView) bookingResponse {
	seats := make([]bookingSeatResponse, len(v.Seats))
	for i, s := range v.Seats {
		seats[i] = bookingSeatResponse{SeatID: s.SeatID, Number: s.Number, Grade: s.Grade, Price: s.Price}
	}
	return bookingResponse{
		BookingID:     v.ID,
		BookingNumber: v.Number,
		ScheduleID:    v.ScheduleID,
		Status:        string(v.Status),
		Seats:         seats,
		TotalPrice:    v.TotalPrice,
		CreatedAt:     v.CreatedAt,
		CancelledAt:   v.CancelledAt,
		Reason:        v.CancellationReason,
		ReasonDetail:  v.CancellationDetail,
		Name:          v.Contact.Name,
		PhoneNumber:   v.Contact.Phone,
		IsCancellable: v.Cancellable,
	}
}

package api

import (
	"time"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

type CreateSlotRequest struct {
	DoctorID *int64     `json:"doctorId"`
	StartsAt *time.Time `json:"startsAt"`
	EndsAt   *time.Time `json:"endsAt"`
}

type DayOpeningsRequest struct {
	DoctorID    *int64 `json:"doctorId"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	DurationMin int    `json:"durationMin"`
}

type CreateAppointmentRequest struct {
	SlotID    int64   `json:"slotId"`
	PatientID *int64  `json:"patientId"`
	Notes     *string `json:"notes"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type SlotResponse struct {
	ID        int64     `json:"id"`
	DoctorID  int64     `json:"doctorId"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	IsBooked  bool      `json:"isBooked"`
	CreatedAt time.Time `json:"createdAt"`
}

type SkippedResponse struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Reason   string    `json:"reason"`
}

type DayOpeningsResponse struct {
	Created []SlotResponse    `json:"created"`
	Skipped []SkippedResponse `json:"skipped"`
}

type AppointmentResponse struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patientId"`
	DoctorID  int64     `json:"doctorId"`
	SlotID    int64     `json:"slotId"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Notes     *string   `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toUserResponse(u scheduling.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

func toUserResponses(users []scheduling.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

type DeleteRangeResponse struct {
	Deleted int64 `json:"deleted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s scheduling.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartsAt:  s.StartsAt,
		EndsAt:    s.EndsAt,
		IsBooked:  s.IsBooked,
		CreatedAt: s.CreatedAt,
	}
}

func toSlotResponses(slots []scheduling.AvailabilitySlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotID:    a.SlotID,
		StartsAt:  a.StartsAt,
		EndsAt:    a.EndsAt,
		Notes:     a.Notes,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []scheduling.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

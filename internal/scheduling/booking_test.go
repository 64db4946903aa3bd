package scheduling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
)

func newTestBooking(store *docstore.Memory) *Booking {
	b := NewBooking(store, NewClosureChecker(store, testLogger()), testLogger())
	b.now = func() time.Time { return mirrorNow }
	seq := 0
	b.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return b
}

func TestCreateAppointment_PersistsBookedAppointment(t *testing.T) {
	store := docstore.NewMemory()
	b := newTestBooking(store)

	appt, err := b.CreateAppointment(context.Background(), "u1", AppointmentRequest{
		ClinicID:       "c1",
		StartAt:        at("10:00"),
		EndAt:          at("10:30"),
		PractitionerID: "p1",
		PatientID:      "pt1",
		Title:          " Consult ",
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", appt.ID)
	assert.Equal(t, StatusBooked, appt.Status)
	assert.Equal(t, KindPatient, appt.Kind)

	doc, err := store.Get(context.Background(), clinic.AppointmentPath("c1", "id-1"))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00.000Z", doc.Fields["startAt"])
	assert.Equal(t, "booked", doc.Fields["status"])
	assert.Equal(t, "Consult", doc.Fields["title"])
	assert.Equal(t, "u1", doc.Fields["createdBy"])
	assert.Equal(t, "2024-05-01T08:00:00.000Z", doc.Fields["createdAt"])
}

func TestCreateAppointment_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  AppointmentRequest
	}{
		{"missing start", AppointmentRequest{ClinicID: "c1", EndAt: at("10:00"), PatientID: "pt1"}},
		{"end before start", AppointmentRequest{ClinicID: "c1", StartAt: at("11:00"), EndAt: at("10:00"), PatientID: "pt1"}},
		{"empty range", AppointmentRequest{ClinicID: "c1", StartAt: at("10:00"), EndAt: at("10:00"), PatientID: "pt1"}},
		{"patient kind without patient", AppointmentRequest{ClinicID: "c1", StartAt: at("10:00"), EndAt: at("11:00")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestBooking(docstore.NewMemory()).CreateAppointment(context.Background(), "u1", tt.req)
			assert.True(t, apperr.Is(err, codes.InvalidArgument), "got %v", err)
		})
	}
}

func TestCreateAppointment_AdminNeedsNoPatient(t *testing.T) {
	b := newTestBooking(docstore.NewMemory())

	appt, err := b.CreateAppointment(context.Background(), "u1", AppointmentRequest{
		ClinicID: "c1", StartAt: at("10:00"), EndAt: at("11:00"), Kind: "Admin",
	})
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, appt.Kind)
}

func TestCreateAppointment_RejectedDuringClosure(t *testing.T) {
	store := docstore.NewMemory()
	b := newTestBooking(store)

	_, err := b.CreateClosure(context.Background(), "u1", ClosureRequest{
		ClinicID: "c1", FromAt: at("10:00"), ToAt: at("11:00"), Reason: "staff training",
	})
	require.NoError(t, err)

	_, err = b.CreateAppointment(context.Background(), "u1", AppointmentRequest{
		ClinicID: "c1", StartAt: at("10:30"), EndAt: at("12:00"), PatientID: "pt1",
	})
	assert.True(t, apperr.Is(err, codes.FailedPrecondition))

	_, err = b.CreateAppointment(context.Background(), "u1", AppointmentRequest{
		ClinicID: "c1", StartAt: at("11:00"), EndAt: at("12:00"), PatientID: "pt1",
	})
	assert.NoError(t, err)
}

func TestCreateClosure_Validation(t *testing.T) {
	b := newTestBooking(docstore.NewMemory())

	_, err := b.CreateClosure(context.Background(), "u1", ClosureRequest{ClinicID: "c1", FromAt: at("11:00"), ToAt: at("10:00")})
	assert.True(t, apperr.Is(err, codes.InvalidArgument))

	_, err = b.CreateClosure(context.Background(), "u1", ClosureRequest{ClinicID: "c1", FromAt: at("11:00")})
	assert.True(t, apperr.Is(err, codes.InvalidArgument))
}

func TestCreateClosure_StoresActiveClosure(t *testing.T) {
	store := docstore.NewMemory()
	b := newTestBooking(store)

	id, err := b.CreateClosure(context.Background(), "u1", ClosureRequest{ClinicID: "c1", FromAt: at("10:00"), ToAt: at("11:00")})
	require.NoError(t, err)

	doc, err := store.Get(context.Background(), clinic.ClosurePath("c1", id))
	require.NoError(t, err)
	active, isBool := doc.Bool("active")
	assert.True(t, active)
	assert.True(t, isBool)
	assert.Equal(t, "2024-05-01T11:00:00.000Z", doc.Fields["toAt"])
}

func TestCancelAppointment(t *testing.T) {
	store := docstore.NewMemory()
	b := newTestBooking(store)
	appt, err := b.CreateAppointment(context.Background(), "u1", AppointmentRequest{
		ClinicID: "c1", StartAt: at("10:00"), EndAt: at("10:30"), PatientID: "pt1",
	})
	require.NoError(t, err)

	cancelled, err := b.CancelAppointment(context.Background(), "u2", "c1", appt.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled())

	doc, err := store.Get(context.Background(), clinic.AppointmentPath("c1", appt.ID))
	require.NoError(t, err)
	assert.Equal(t, "cancelled", doc.Fields["status"])
	assert.Equal(t, "u2", doc.Fields["cancelledBy"])
	assert.Equal(t, "u1", doc.Fields["createdBy"])

	again, err := b.CancelAppointment(context.Background(), "u3", "c1", appt.ID)
	require.NoError(t, err)
	assert.True(t, again.Cancelled())
	doc, err = store.Get(context.Background(), clinic.AppointmentPath("c1", appt.ID))
	require.NoError(t, err)
	assert.Equal(t, "u2", doc.Fields["cancelledBy"])
}

func TestCancelAppointment_Missing(t *testing.T) {
	b := newTestBooking(docstore.NewMemory())

	_, err := b.CancelAppointment(context.Background(), "u1", "c1", "nope")
	assert.True(t, apperr.Is(err, codes.FailedPrecondition))

	_, err = b.CancelAppointment(context.Background(), "u1", "c1", "")
	assert.True(t, apperr.Is(err, codes.InvalidArgument))
}

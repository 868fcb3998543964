package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/citabot/citabot/internal/appointments"
	"github.com/citabot/citabot/internal/calendar"
	"github.com/citabot/citabot/internal/messages"
	"github.com/citabot/citabot/internal/nlp"
	"github.com/citabot/citabot/internal/session"
	"github.com/citabot/citabot/internal/storage"
	"github.com/citabot/citabot/internal/tenants"
)

// fakeDB hands out no-op transactions; the fake stores below ignore the
// querier entirely.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

// fakeSessions simulates the durable session record: GetOrCreate hands out
// independent copies of the stored state, Save writes back.
type fakeSessions struct {
	stored session.Session
	gets   int

	// flipToIdle simulates a concurrent delivery committing between the
	// engine's two transactions: the second read sees an idle flow.
	flipToIdleOnSecondGet bool
}

func (f *fakeSessions) GetOrCreate(_ context.Context, _ storage.Querier, _ uuid.UUID, _ string, _ time.Time) (*session.Session, error) {
	f.gets++
	if f.flipToIdleOnSecondGet && f.gets == 2 {
		f.stored.State = session.NewState()
	}

	c := f.stored
	c.Facts = copyStringMap(f.stored.Facts)
	c.State.Filled = copyStringMap(f.stored.State.Filled)
	c.State.Pending = append([]string(nil), f.stored.State.Pending...)
	if f.stored.State.Cancel != nil {
		cc := *f.stored.State.Cancel
		c.State.Cancel = &cc
	}
	return &c, nil
}

func (f *fakeSessions) Save(_ context.Context, _ storage.Querier, s *session.Session, _ time.Time) error {
	f.stored = *s
	return nil
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type fakeAppointments struct {
	appts  []*appointments.Appointment
	nextID int64
}

func (f *fakeAppointments) Create(_ context.Context, _ storage.Querier, appt *appointments.Appointment) error {
	f.nextID++
	appt.ID = f.nextID
	appt.Status = appointments.StatusScheduled
	f.appts = append(f.appts, appt)
	return nil
}

func (f *fakeAppointments) GetByID(_ context.Context, _ storage.Querier, _ uuid.UUID, phone string, id int64) (*appointments.Appointment, error) {
	for _, a := range f.appts {
		if a.ID == id && a.ClientPhone == phone {
			return a, nil
		}
	}
	return nil, appointments.ErrNotFound
}

func (f *fakeAppointments) FindScheduledAt(_ context.Context, _ storage.Querier, _ uuid.UUID, phone string, at time.Time) (*appointments.Appointment, error) {
	for _, a := range f.appts {
		if a.ClientPhone == phone && a.Status == appointments.StatusScheduled && a.ScheduledFor.Equal(at) {
			return a, nil
		}
	}
	return nil, appointments.ErrNotFound
}

func (f *fakeAppointments) ListUpcoming(_ context.Context, _ storage.Querier, _ uuid.UUID, phone string, now time.Time) ([]*appointments.Appointment, error) {
	var out []*appointments.Appointment
	for _, a := range f.appts {
		if a.ClientPhone == phone && a.Status == appointments.StatusScheduled && a.ScheduledFor.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) Cancel(_ context.Context, _ storage.Querier, _ uuid.UUID, phone string, id int64, at time.Time) error {
	for _, a := range f.appts {
		if a.ID == id && a.ClientPhone == phone && a.Status == appointments.StatusScheduled {
			a.Status = appointments.StatusCancelled
			a.CancelledAt = &at
			return nil
		}
	}
	return appointments.ErrNotFound
}

type fakeMessages struct {
	log []*messages.Message
}

func (f *fakeMessages) Add(_ context.Context, _ storage.Querier, msg *messages.Message) error {
	f.log = append(f.log, msg)
	return nil
}

func (f *fakeMessages) History(_ context.Context, _ storage.Querier, _ uuid.UUID, limit int) ([]*messages.Message, error) {
	if len(f.log) <= limit {
		return f.log, nil
	}
	return f.log[len(f.log)-limit:], nil
}

type fakeChecker struct {
	available bool
	err       error
	calls     []calendar.Query
}

func (f *fakeChecker) IsAvailable(_ context.Context, q calendar.Query) (bool, error) {
	f.calls = append(f.calls, q)
	return f.available, f.err
}

type fakeCalendar struct {
	creates []calendar.EventRequest
	deletes []string
	err     error
}

func (f *fakeCalendar) ListEvents(_ context.Context, _ string, _, _ time.Time) ([]calendar.Event, error) {
	return nil, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (calendar.Event, error) {
	if f.err != nil {
		return calendar.Event{}, f.err
	}
	f.creates = append(f.creates, req)
	return calendar.Event{ID: "evt-1", Start: req.Start, End: req.End}, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _, eventID string) error {
	f.deletes = append(f.deletes, eventID)
	return nil
}

type fakeResponder struct {
	reply ModelReply
	err   error
}

func (f *fakeResponder) Reply(_ context.Context, _ *tenants.Tenant, _ nlp.Intent, _ *session.Session, _ []*messages.Message, _ string) (ModelReply, error) {
	return f.reply, f.err
}

type harness struct {
	engine   *Engine
	sessions *fakeSessions
	appts    *fakeAppointments
	msgs     *fakeMessages
	checker  *fakeChecker
	cal      *fakeCalendar
	respond  *fakeResponder
	tenant   *tenants.Tenant
	now      time.Time
	loc      *time.Location
}

// Reference "now" is Tuesday June 2 2026, 10:00 in Bogota.
func newHarness(t *testing.T) *harness {
	t.Helper()
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, time.June, 2, 10, 0, 0, 0, loc)

	h := &harness{
		sessions: &fakeSessions{stored: session.Session{
			ID:     uuid.New(),
			Status: session.StatusActive,
			State:  session.NewState(),
		}},
		appts:   &fakeAppointments{},
		msgs:    &fakeMessages{},
		checker: &fakeChecker{available: true},
		cal:     &fakeCalendar{},
		respond: &fakeResponder{reply: ModelReply{Text: "Con gusto te ayudo."}},
		tenant: &tenants.Tenant{
			ID:             uuid.New(),
			Name:           "Clínica Sonrisa",
			Schedule:       "lunes a viernes de 9:00 a 18:00",
			CatalogURL:     "https://sonrisa.example/servicios",
			WhatsAppNumber: "+573000000000",
			CalendarID:     "cal-1",
			Timezone:       "America/Bogota",
		},
		now: now,
		loc: loc,
	}
	h.sessions.stored.TenantID = h.tenant.ID
	h.sessions.stored.UserID = "+573001234567"

	h.engine = NewEngine(Deps{
		DB:           fakeDB{},
		Sessions:     h.sessions,
		Appointments: h.appts,
		Messages:     h.msgs,
		Classifier:   nlp.NewClassifier(nil, "", nil),
		Extractor:    nlp.NewExtractor(nil, "", nil),
		Responder:    h.respond,
		Checker:      h.checker,
		Calendar:     h.cal,
	}, WithClock(func() time.Time { return now }))
	return h
}

func (h *harness) handle(t *testing.T, body string) string {
	t.Helper()
	return h.engine.HandleInbound(context.Background(), InboundMessage{
		Tenant:      h.tenant,
		UserID:      "+573001234567",
		Body:        body,
		ProviderSID: "SM-" + body,
	})
}

func (h *harness) seedScheduling(name string) {
	h.sessions.stored.State = session.State{
		Flow:    session.FlowScheduling,
		Filled:  map[string]string{"client_name": name},
		Pending: []string{"appointment_datetime"},
	}
	h.sessions.stored.Facts = map[string]string{session.FactClientName: name}
}

func TestGreetingAtIdle(t *testing.T) {
	h := newHarness(t)

	reply := h.handle(t, "hola")
	if !strings.Contains(reply, "Clínica Sonrisa") {
		t.Fatalf("greeting must name the tenant, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("greeting must not open a flow, got %s", h.sessions.stored.State.Flow)
	}
	if len(h.appts.appts) != 0 {
		t.Fatalf("greeting created an appointment")
	}
}

func TestScheduleIntentOpensFlowAndAsksName(t *testing.T) {
	h := newHarness(t)

	reply := h.handle(t, "quiero agendar una cita")
	if !strings.Contains(reply, "nombre") {
		t.Fatalf("expected name prompt, got %q", reply)
	}
	st := h.sessions.stored.State
	if st.Flow != session.FlowScheduling {
		t.Fatalf("expected scheduling flow, got %s", st.Flow)
	}
	if next, _ := st.NextPending(); next != "client_name" {
		t.Fatalf("expected client_name pending first, got %q", next)
	}
}

func TestSchedulingConflictReopensOnlyDateTime(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")
	h.checker.available = false

	reply := h.handle(t, "el lunes a las 3pm")

	if len(h.checker.calls) != 1 {
		t.Fatalf("expected one availability check, got %d", len(h.checker.calls))
	}
	want := time.Date(2026, time.June, 8, 15, 0, 0, 0, h.loc)
	if !h.checker.calls[0].Start.Equal(want) {
		t.Fatalf("checker got %v, want %v", h.checker.calls[0].Start, want)
	}
	if !strings.Contains(reply, "no está disponible") {
		t.Fatalf("expected conflict message, got %q", reply)
	}

	st := h.sessions.stored.State
	if st.Flow != session.FlowScheduling {
		t.Fatalf("conflict must keep the scheduling flow, got %s", st.Flow)
	}
	if _, filled := st.Filled["appointment_datetime"]; filled {
		t.Fatalf("conflicting datetime must not stay filled")
	}
	if st.Filled["client_name"] != "Ana García" {
		t.Fatalf("conflict must preserve other slots, got %v", st.Filled)
	}
	if len(h.appts.appts) != 0 || len(h.cal.creates) != 0 {
		t.Fatalf("conflict must not book")
	}
}

func TestSchedulingCommit(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")

	reply := h.handle(t, "el lunes a las 3pm")

	if len(h.appts.appts) != 1 {
		t.Fatalf("expected exactly one appointment, got %d", len(h.appts.appts))
	}
	appt := h.appts.appts[0]
	if appt.Status != appointments.StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", appt.Status)
	}
	want := time.Date(2026, time.June, 8, 15, 0, 0, 0, h.loc)
	if !appt.ScheduledFor.Equal(want) {
		t.Fatalf("scheduled for %v, want %v", appt.ScheduledFor, want)
	}
	if len(h.cal.creates) != 1 {
		t.Fatalf("expected exactly one calendar event, got %d", len(h.cal.creates))
	}
	if !strings.Contains(reply, "Ana García") {
		t.Fatalf("confirmation must contain the client name, got %q", reply)
	}
	if !strings.Contains(reply, "el lunes 8 de junio de 2026 a las 15:00") {
		t.Fatalf("confirmation must contain the datetime, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("commit must reset to idle, got %s", h.sessions.stored.State.Flow)
	}
	if h.sessions.stored.Facts[session.FactClientName] != "Ana García" {
		t.Fatalf("client name must survive the reset")
	}
}

func TestSchedulingCommitWithTenantTemplateAndExtraSlots(t *testing.T) {
	h := newHarness(t)
	h.tenant.ConfirmationTemplate = "Listo {client_name}, te esperamos {appointment_datetime_display} en Clínica Sonrisa."
	h.tenant.Slots = []tenants.SlotSpec{
		{Key: "client_name", Label: "nombre completo", Kind: tenants.SlotKindName, Required: true},
		{Key: "doctor", Label: "doctora", Kind: tenants.SlotKindOption, Required: true, Options: []string{"María Martínez", "Luisa Pérez"}},
		{Key: "appointment_datetime", Label: "fecha y hora", Kind: tenants.SlotKindDateTime, Required: true},
	}
	h.sessions.stored.State = session.State{
		Flow: session.FlowScheduling,
		Filled: map[string]string{
			"client_name": "Ana García",
			"doctor":      "María Martínez",
		},
		Pending: []string{"appointment_datetime"},
	}

	reply := h.handle(t, "el lunes a las 3pm")

	if !strings.Contains(reply, "Listo Ana García") {
		t.Fatalf("tenant template not used: %q", reply)
	}
	if !strings.Contains(reply, "María Martínez") {
		t.Fatalf("confirmation must list every collected slot, got %q", reply)
	}
	if h.checker.calls[0].Resource != "María Martínez" {
		t.Fatalf("availability must carry the resource, got %q", h.checker.calls[0].Resource)
	}
	if h.checker.calls[0].AllowParallel != h.tenant.AllowParallelAppointments {
		t.Fatalf("availability must carry the tenant parallel policy")
	}
}

func TestSchedulingUnresolvedReprompts(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")

	reply := h.handle(t, "pues no estoy seguro todavia")
	if !strings.Contains(reply, "fecha y hora") {
		t.Fatalf("expected datetime re-prompt, got %q", reply)
	}
	st := h.sessions.stored.State
	if next, _ := st.NextPending(); next != "appointment_datetime" {
		t.Fatalf("pending slot must not advance, got %q", next)
	}
}

func TestGreetingInterruptsActiveFlow(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")

	reply := h.handle(t, "hola")
	if !strings.Contains(reply, "Clínica Sonrisa") {
		t.Fatalf("expected greeting, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("greeting must reset the flow, got %s", h.sessions.stored.State.Flow)
	}
	if h.sessions.stored.Facts[session.FactClientName] != "Ana García" {
		t.Fatalf("greeting reset must preserve the name")
	}
}

func TestDuplicateDeliveryDoesNotDoubleBook(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")
	// Between the engine's two transactions a concurrent delivery commits
	// the booking and resets the session.
	h.sessions.flipToIdleOnSecondGet = true

	reply := h.handle(t, "el lunes a las 3pm")

	if len(h.appts.appts) != 0 {
		t.Fatalf("racing turn must not insert a second appointment")
	}
	if len(h.cal.deletes) != 1 || h.cal.deletes[0] != "evt-1" {
		t.Fatalf("racing turn must clean up its calendar event, got %v", h.cal.deletes)
	}
	if !strings.Contains(reply, "Todo listo") {
		t.Fatalf("expected good-to-go reply, got %q", reply)
	}
}

func seedCancellable(h *harness) *appointments.Appointment {
	at := time.Date(2026, time.June, 8, 15, 0, 0, 0, h.loc)
	appt := &appointments.Appointment{
		ID:              42,
		TenantID:        h.tenant.ID,
		ClientPhone:     "+573001234567",
		ClientName:      "Ana García",
		ScheduledFor:    at,
		Duration:        time.Hour,
		Status:          appointments.StatusScheduled,
		CalendarEventID: "evt-42",
	}
	h.appts.appts = append(h.appts.appts, appt)
	h.appts.nextID = 42
	return appt
}

func TestCancelFlowByDateTime(t *testing.T) {
	h := newHarness(t)
	appt := seedCancellable(h)

	reply := h.handle(t, "quiero cancelar mi cita")
	if !strings.Contains(reply, "cancelar tu cita") {
		t.Fatalf("expected cancel target prompt, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowCancelling {
		t.Fatalf("expected cancelling flow")
	}

	reply = h.handle(t, "la del lunes a las 3pm")
	if !strings.Contains(reply, "¿Estás seguro?") {
		t.Fatalf("expected confirmation prompt, got %q", reply)
	}
	st := h.sessions.stored.State
	if st.Cancel == nil || st.Cancel.Stage != session.CancelStageConfirm || st.Cancel.AppointmentID != 42 {
		t.Fatalf("cancel state not staged: %+v", st.Cancel)
	}

	reply = h.handle(t, "sí")
	if appt.Status != appointments.StatusCancelled {
		t.Fatalf("appointment not cancelled, status %s", appt.Status)
	}
	if !strings.Contains(reply, "cancelada exitosamente") {
		t.Fatalf("expected success message, got %q", reply)
	}
	if len(h.cal.deletes) != 1 || h.cal.deletes[0] != "evt-42" {
		t.Fatalf("calendar event not removed, got %v", h.cal.deletes)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("cancel must reset to idle")
	}
}

func TestCancelConfirmationDenied(t *testing.T) {
	h := newHarness(t)
	appt := seedCancellable(h)
	at := appt.ScheduledFor
	h.sessions.stored.State = session.State{
		Flow: session.FlowCancelling,
		Cancel: &session.CancelState{
			Stage:         session.CancelStageConfirm,
			AppointmentID: 42,
			ScheduledFor:  &at,
		},
	}

	reply := h.handle(t, "no")
	if appt.Status != appointments.StatusScheduled {
		t.Fatalf("denied cancellation must not change the appointment")
	}
	if !strings.Contains(reply, "no ha sido cancelada") {
		t.Fatalf("expected abort message, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("denial must reset to idle")
	}
}

func TestCancelByID(t *testing.T) {
	h := newHarness(t)
	seedCancellable(h)
	h.sessions.stored.State = session.State{
		Flow:   session.FlowCancelling,
		Cancel: &session.CancelState{Stage: session.CancelStageTarget},
	}

	reply := h.handle(t, "la cita 42")
	if !strings.Contains(reply, "¿Estás seguro?") {
		t.Fatalf("expected confirmation prompt, got %q", reply)
	}
}

func TestCancelTargetNotFound(t *testing.T) {
	h := newHarness(t)
	seedCancellable(h)
	h.sessions.stored.State = session.State{
		Flow:   session.FlowCancelling,
		Cancel: &session.CancelState{Stage: session.CancelStageTarget},
	}

	reply := h.handle(t, "la cita 99")
	if !strings.Contains(reply, "No encontré una cita") {
		t.Fatalf("expected not-found message, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("not-found must reset to idle")
	}
}

func TestCancelWithNothingToCancel(t *testing.T) {
	h := newHarness(t)

	reply := h.handle(t, "quiero cancelar mi cita")
	if !strings.Contains(reply, "No tienes citas") {
		t.Fatalf("expected no-cancellable message, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("flow must stay idle")
	}
}

func TestOpenDomainPromotionToScheduling(t *testing.T) {
	h := newHarness(t)
	h.respond.reply = ModelReply{
		Text:              "¡Claro que sí! Agendemos tu visita.",
		ConversationState: "scheduling",
	}

	reply := h.handle(t, "me duele una muela desde ayer")
	if h.sessions.stored.State.Flow != session.FlowScheduling {
		t.Fatalf("expected promotion into scheduling, got %s", h.sessions.stored.State.Flow)
	}
	if !strings.Contains(reply, "¡Claro que sí!") || !strings.Contains(reply, "nombre") {
		t.Fatalf("promotion reply must carry model text and the first prompt, got %q", reply)
	}
}

func TestOpenDomainFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.respond.err = errors.New("model unavailable")

	reply := h.handle(t, "cuentame un chiste sobre dentistas")
	if !strings.Contains(reply, "no entendí") {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
	if h.sessions.stored.State.Flow != session.FlowNone {
		t.Fatalf("failure must leave state unchanged")
	}
}

func TestAvailabilityErrorKeepsFilledSlots(t *testing.T) {
	h := newHarness(t)
	h.seedScheduling("Ana García")
	h.checker.err = errors.New("calendar unreachable")
	h.checker.available = false

	reply := h.handle(t, "el lunes a las 3pm")
	if !strings.Contains(reply, "algo salió mal") {
		t.Fatalf("expected transient error reply, got %q", reply)
	}
	st := h.sessions.stored.State
	if st.Flow != session.FlowScheduling {
		t.Fatalf("flow must survive the failure, got %s", st.Flow)
	}
	if len(h.appts.appts) != 0 || len(h.cal.creates) != 0 {
		t.Fatalf("failure must not book")
	}
}

func TestInboundAndOutboundAreLogged(t *testing.T) {
	h := newHarness(t)

	h.handle(t, "hola")
	if len(h.msgs.log) != 2 {
		t.Fatalf("expected inbound and outbound log entries, got %d", len(h.msgs.log))
	}
	if h.msgs.log[0].Direction != messages.DirectionInbound || h.msgs.log[1].Direction != messages.DirectionOutbound {
		t.Fatalf("wrong directions: %s, %s", h.msgs.log[0].Direction, h.msgs.log[1].Direction)
	}
}

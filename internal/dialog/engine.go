// Package dialog implements the per-session conversation state machine:
// intent-driven flow selection, slot filling, the availability-checked
// booking commit, and the cancellation sub-flow with its confirm step.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/citabot/citabot/internal/appointments"
	"github.com/citabot/citabot/internal/calendar"
	"github.com/citabot/citabot/internal/messages"
	"github.com/citabot/citabot/internal/nlp"
	"github.com/citabot/citabot/internal/observability/metrics"
	"github.com/citabot/citabot/internal/session"
	"github.com/citabot/citabot/internal/storage"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/pkg/logging"
)

// DB is the connection surface the engine needs: direct reads plus
// transactions. *pgxpool.Pool satisfies it.
type DB interface {
	storage.Querier
	storage.Beginner
}

// SessionStore locks and persists the per-user conversation record.
type SessionStore interface {
	GetOrCreate(ctx context.Context, q storage.Querier, tenantID uuid.UUID, userID string, now time.Time) (*session.Session, error)
	Save(ctx context.Context, q storage.Querier, s *session.Session, now time.Time) error
}

// AppointmentStore persists bookings.
type AppointmentStore interface {
	Create(ctx context.Context, q storage.Querier, appt *appointments.Appointment) error
	GetByID(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, id int64) (*appointments.Appointment, error)
	FindScheduledAt(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, at time.Time) (*appointments.Appointment, error)
	ListUpcoming(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, now time.Time) ([]*appointments.Appointment, error)
	Cancel(ctx context.Context, q storage.Querier, tenantID uuid.UUID, clientPhone string, id int64, at time.Time) error
}

// MessageLog is the append-only conversation transcript.
type MessageLog interface {
	Add(ctx context.Context, q storage.Querier, msg *messages.Message) error
	History(ctx context.Context, q storage.Querier, sessionID uuid.UUID, limit int) ([]*messages.Message, error)
}

// IntentClassifier resolves the purpose of an inbound message.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, sessionFacts map[string]string) nlp.Intent
}

// EntityExtractor pulls typed slot values out of free text.
type EntityExtractor interface {
	ExtractName(ctx context.Context, text string) (string, bool)
	ExtractDateTime(ctx context.Context, text string, parser *nlp.DateTimeParser) (time.Time, bool)
	ExtractOption(ctx context.Context, text string, options []string) (string, bool)
}

// OpenDomainResponder handles messages no deterministic flow covers.
type OpenDomainResponder interface {
	Reply(ctx context.Context, t *tenants.Tenant, intent nlp.Intent, sess *session.Session, history []*messages.Message, userText string) (ModelReply, error)
}

// AvailabilityChecker validates a candidate slot against the calendar.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, q calendar.Query) (bool, error)
}

// InboundMessage is one user message routed to the engine.
type InboundMessage struct {
	Tenant      *tenants.Tenant
	UserID      string
	Body        string
	ProviderSID string
}

// Deps wires the engine's collaborators.
type Deps struct {
	DB           DB
	Sessions     SessionStore
	Appointments AppointmentStore
	Messages     MessageLog
	Classifier   IntentClassifier
	Extractor    EntityExtractor
	Responder    OpenDomainResponder
	Checker      AvailabilityChecker
	Calendar     calendar.Provider
	Catalog      *ResponseCatalog
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// Engine drives one conversation turn at a time. External calls (model,
// calendar) happen between the two transactions, never under a row lock;
// the commit transaction re-reads the session so a duplicate delivery that
// lost the race sees an idle flow and does not double-book.
type Engine struct {
	db       DB
	sessions SessionStore
	appts    AppointmentStore
	msgs     MessageLog

	classifier IntentClassifier
	extractor  EntityExtractor
	responder  OpenDomainResponder
	checker    AvailabilityChecker
	cal        calendar.Provider
	catalog    *ResponseCatalog
	logger     *logging.Logger
	metrics    *metrics.Metrics

	now          func() time.Time
	apptDuration time.Duration
	historyLimit int
}

// Option configures the engine.
type Option func(*Engine)

// WithAppointmentDuration sets the booked slot length.
func WithAppointmentDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.apptDuration = d
		}
	}
}

// WithHistoryLimit caps how many transcript messages feed the model.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	if deps.DB == nil {
		panic("dialog: DB cannot be nil")
	}
	if deps.Catalog == nil {
		deps.Catalog = NewResponseCatalog(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	e := &Engine{
		db:           deps.DB,
		sessions:     deps.Sessions,
		appts:        deps.Appointments,
		msgs:         deps.Messages,
		classifier:   deps.Classifier,
		extractor:    deps.Extractor,
		responder:    deps.Responder,
		checker:      deps.Checker,
		cal:          deps.Calendar,
		catalog:      deps.Catalog,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		now:          time.Now,
		apptDuration: time.Hour,
		historyLimit: 10,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome is a decided turn: the reply plus the writes the commit
// transaction must apply.
type outcome struct {
	reply string

	// book, when set, is inserted at commit together with the session
	// reset. bookEventID names the calendar event already created for it,
	// deleted again if the commit does not go through.
	book        *appointments.Appointment
	bookEventID string

	// cancelID, when non-zero, marks that appointment cancelled at commit.
	// deleteEventID is its calendar event, removed after a successful
	// commit (best effort).
	cancelID      int64
	deleteEventID string
}

// HandleInbound processes one message and always returns a reply, even on
// total failure. Errors never escape to the transport.
func (e *Engine) HandleInbound(ctx context.Context, msg InboundMessage) string {
	start := time.Now()
	reply, err := e.process(ctx, msg)
	e.metrics.ObserveTurn(time.Since(start).Seconds())
	if err != nil {
		e.logger.Error("dialog: turn failed",
			"tenant_id", msg.Tenant.ID, "user_id", msg.UserID, "error", err)
		if reply == "" {
			reply = e.catalog.MustRender(KindError)
		}
	}
	return reply
}

func (e *Engine) process(ctx context.Context, msg InboundMessage) (string, error) {
	t := msg.Tenant
	now := e.now()

	// Phase 1: lock the session row just long enough to load its state and
	// log the inbound message.
	var (
		sess    *session.Session
		history []*messages.Message
	)
	err := storage.WithTx(ctx, e.db, func(tx pgx.Tx) error {
		s, err := e.sessions.GetOrCreate(ctx, tx, t.ID, msg.UserID, now)
		if err != nil {
			return err
		}
		if err := e.msgs.Add(ctx, tx, &messages.Message{
			SessionID:   s.ID,
			TenantID:    t.ID,
			Direction:   messages.DirectionInbound,
			Body:        msg.Body,
			ProviderSID: msg.ProviderSID,
		}); err != nil {
			return err
		}
		history, err = e.msgs.History(ctx, tx, s.ID, e.historyLimit)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("dialog: load turn: %w", err)
	}
	snapFlow := sess.State.Flow

	// Phase 2: classification, extraction, availability, and calendar work
	// against the snapshot, with no database locks held.
	out := e.decide(ctx, t, sess, history, msg.Body)

	// Phase 3: re-read the session under lock and apply the decided writes
	// atomically with the outbound log entry.
	raced := false
	err = storage.WithTx(ctx, e.db, func(tx pgx.Tx) error {
		cur, err := e.sessions.GetOrCreate(ctx, tx, t.ID, msg.UserID, now)
		if err != nil {
			return err
		}

		if cur.ID == sess.ID {
			// A flow that moved on since the phase-1 read means a
			// concurrent delivery already committed this turn's work.
			if (out.book != nil || out.cancelID != 0) && cur.State.Flow != snapFlow {
				raced = true
			}
			if !raced {
				if out.book != nil {
					if err := e.appts.Create(ctx, tx, out.book); err != nil {
						return err
					}
				}
				if out.cancelID != 0 {
					err := e.appts.Cancel(ctx, tx, t.ID, msg.UserID, out.cancelID, now)
					if err != nil && !errors.Is(err, appointments.ErrNotFound) {
						return err
					}
				}
				cur.State = sess.State
				cur.Facts = sess.Facts
			}
			if err := e.sessions.Save(ctx, tx, cur, now); err != nil {
				return err
			}
		}

		reply := out.reply
		if raced {
			reply = e.catalog.MustRender(KindGoodToGo)
		}
		return e.msgs.Add(ctx, tx, &messages.Message{
			SessionID: cur.ID,
			TenantID:  t.ID,
			Direction: messages.DirectionOutbound,
			Body:      reply,
		})
	})
	if err != nil {
		if out.bookEventID != "" {
			e.removeCalendarEvent(t, out.bookEventID)
		}
		return "", fmt.Errorf("dialog: commit turn: %w", err)
	}

	if raced {
		if out.bookEventID != "" {
			e.removeCalendarEvent(t, out.bookEventID)
		}
		return e.catalog.MustRender(KindGoodToGo), nil
	}
	if out.book != nil {
		e.metrics.ObserveBooking("booked")
	}
	if out.cancelID != 0 {
		e.metrics.ObserveBooking("cancelled")
	}
	if out.deleteEventID != "" {
		e.removeCalendarEvent(t, out.deleteEventID)
	}
	return out.reply, nil
}

// removeCalendarEvent is best effort; a leftover event is logged, not fatal.
func (e *Engine) removeCalendarEvent(t *tenants.Tenant, eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cal.DeleteEvent(ctx, t.CalendarID, eventID); err != nil {
		e.logger.Error("dialog: calendar event cleanup failed",
			"tenant_id", t.ID, "event_id", eventID, "error", err)
	}
}

// decide runs the state machine over the session snapshot. It mutates sess
// and returns the reply plus any commit actions. Error paths inside keep
// the session state unchanged and reply with a retry message.
func (e *Engine) decide(ctx context.Context, t *tenants.Tenant, sess *session.Session, history []*messages.Message, text string) outcome {
	intent := e.classifier.Classify(ctx, text, sess.Facts)
	e.metrics.ObserveIntent(string(intent))

	// A greeting always escapes an active flow. Users recover from a stuck
	// conversation by saying hello again.
	if intent == nlp.IntentGreet && sess.State.Flow != session.FlowNone {
		sess.Reset(true)
		return e.templated(t, KindGreet)
	}

	// Cancellation can be requested from any state.
	if intent == nlp.IntentCancelAppointment && sess.State.Flow != session.FlowCancelling {
		return e.startCancelling(ctx, t, sess, text)
	}

	switch sess.State.Flow {
	case session.FlowScheduling:
		return e.advanceScheduling(ctx, t, sess, text, false)
	case session.FlowCancelling:
		return e.continueCancelling(ctx, t, sess, text)
	}

	// Idle.
	switch intent {
	case nlp.IntentGreet:
		return e.templated(t, KindGreet)
	case nlp.IntentFarewell:
		sess.SetFact(session.FactConversationState, "ended")
		return e.templated(t, KindFarewell)
	case nlp.IntentAskSchedule:
		return e.templated(t, KindAskSchedule)
	case nlp.IntentAskCatalog:
		return e.templated(t, KindAskCatalog)
	case nlp.IntentAskPricing:
		return e.templated(t, KindAskPricing)
	case nlp.IntentAskBotIdentity:
		return e.templated(t, KindBotIdentity)
	case nlp.IntentAskBotCapabilities:
		return e.templated(t, KindBotCapabilities)
	case nlp.IntentScheduleAppointment:
		return e.startScheduling(ctx, t, sess, text)
	default:
		return e.openDomain(ctx, t, sess, history, intent, text)
	}
}

func (e *Engine) templated(t *tenants.Tenant, kind Kind) outcome {
	reply, err := e.catalog.Render(kind, map[string]string{
		"company_name":        t.Name,
		"company_schedule":    t.Schedule,
		"company_catalog_url": t.CatalogURL,
	})
	if err != nil {
		e.logger.Error("dialog: template render failed", "kind", string(kind), "error", err)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	return outcome{reply: reply}
}

// startScheduling opens the scheduling flow with every required slot
// pending, pre-fills slots already known, then tries to harvest values
// from the triggering message itself ("quiero una cita mañana a las 3").
func (e *Engine) startScheduling(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string) outcome {
	st := session.State{Flow: session.FlowScheduling}
	for _, spec := range t.SlotSpecs() {
		if spec.Required {
			st.Pending = append(st.Pending, spec.Key)
		}
	}
	sess.State = st

	if name := sess.ClientName(); name != "" {
		for _, spec := range t.SlotSpecs() {
			if spec.Kind == tenants.SlotKindName {
				sess.State.FillSlot(spec.Key, name)
			}
		}
	}

	return e.advanceScheduling(ctx, t, sess, text, true)
}

// advanceScheduling fills what it can from the message and either prompts
// for the next missing slot or, with nothing left pending, runs the commit
// point. scanAll widens extraction to every pending slot for flow-opening
// messages; mid-flow turns are scoped to the one slot just asked for.
func (e *Engine) advanceScheduling(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string, scanAll bool) outcome {
	st := &sess.State

	keys := st.Pending
	if !scanAll {
		if next, ok := st.NextPending(); ok {
			keys = []string{next}
		}
	}
	for _, key := range append([]string(nil), keys...) {
		spec, ok := t.Slot(key)
		if !ok {
			continue
		}
		value, found := e.extractSlot(ctx, t, spec, text, !scanAll)
		if !found {
			continue
		}
		st.FillSlot(key, value)
		if spec.Kind == tenants.SlotKindName {
			sess.SetFact(session.FactClientName, value)
		}
	}

	if next, ok := st.NextPending(); ok {
		spec, found := t.Slot(next)
		if !found {
			e.logger.Error("dialog: pending slot has no spec", "tenant_id", t.ID, "slot", next)
			sess.Reset(true)
			return outcome{reply: e.catalog.MustRender(KindError)}
		}
		return e.promptFor(t, spec)
	}

	return e.commitScheduling(ctx, t, sess)
}

func (e *Engine) extractSlot(ctx context.Context, t *tenants.Tenant, spec tenants.SlotSpec, text string, scoped bool) (string, bool) {
	switch spec.Kind {
	case tenants.SlotKindName:
		return e.extractor.ExtractName(ctx, text)
	case tenants.SlotKindDateTime:
		parser := nlp.NewDateTimeParser(t.Location())
		parser.Now = e.now
		when, ok := e.extractor.ExtractDateTime(ctx, text, parser)
		if !ok {
			return "", false
		}
		return when.Format(time.RFC3339), true
	case tenants.SlotKindOption:
		return e.extractor.ExtractOption(ctx, text, spec.Options)
	case tenants.SlotKindText:
		// Free-form slots swallow the whole message, so only when this
		// exact slot was just asked for.
		if !scoped {
			return "", false
		}
		v := strings.TrimSpace(text)
		return v, v != ""
	}
	return "", false
}

func (e *Engine) promptFor(t *tenants.Tenant, spec tenants.SlotSpec) outcome {
	if spec.Prompt != "" {
		return outcome{reply: spec.Prompt}
	}
	switch spec.Kind {
	case tenants.SlotKindName:
		return outcome{reply: e.catalog.MustRender(KindNameRequest)}
	case tenants.SlotKindDateTime:
		return outcome{reply: e.catalog.MustRender(KindDateTimeRequest)}
	case tenants.SlotKindOption:
		reply, err := e.catalog.Render(KindOptionRequest, map[string]string{
			"slot_label": spec.Label,
			"options":    "- " + strings.Join(spec.Options, "\n- "),
		})
		if err != nil {
			return outcome{reply: e.catalog.MustRender(KindError)}
		}
		return outcome{reply: reply}
	default:
		reply, err := e.catalog.Render(KindTextRequest, map[string]string{"slot_label": spec.Label})
		if err != nil {
			return outcome{reply: e.catalog.MustRender(KindError)}
		}
		return outcome{reply: reply}
	}
}

// commitScheduling is the booking commit point: past/conflict checks, then
// the calendar event, then the appointment insert handed to phase 3.
func (e *Engine) commitScheduling(ctx context.Context, t *tenants.Tenant, sess *session.Session) outcome {
	st := &sess.State
	dtKey := t.DateTimeSlotKey()

	when, err := time.Parse(time.RFC3339, st.Filled[dtKey])
	if err != nil {
		// Corrupt flow state. Reset rather than loop on a value that will
		// never parse.
		e.logger.Error("dialog: stored datetime unparseable",
			"tenant_id", t.ID, "value", st.Filled[dtKey], "error", err)
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	when = when.In(t.Location())

	if !when.After(e.now()) {
		st.ReopenSlot(dtKey)
		return outcome{reply: e.catalog.MustRender(KindUnavailable)}
	}

	available, err := e.checker.IsAvailable(ctx, calendar.Query{
		CalendarID:    t.CalendarID,
		Start:         when,
		Duration:      e.apptDuration,
		AllowParallel: t.AllowParallelAppointments,
		Resource:      e.resourceValue(t, st),
	})
	if err != nil {
		// Fail closed but keep the filled slots; the user's next message
		// retries the commit.
		e.logger.Error("dialog: availability check failed", "tenant_id", t.ID, "error", err)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	if !available {
		st.ReopenSlot(dtKey)
		return outcome{reply: e.catalog.MustRender(KindUnavailable)}
	}

	clientName := st.Filled[e.nameSlotKey(t)]
	if clientName == "" {
		clientName = sess.ClientName()
	}

	event, err := e.cal.CreateEvent(ctx, calendar.EventRequest{
		CalendarID:  t.CalendarID,
		Summary:     fmt.Sprintf("Cita %s - %s", clientName, t.Name),
		Description: e.eventDescription(t, st.Filled, sess.UserID),
		Start:       when,
		End:         when.Add(e.apptDuration),
		Timezone:    t.Timezone,
	})
	if err != nil {
		e.logger.Error("dialog: calendar booking failed", "tenant_id", t.ID, "error", err)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}

	slotValues := make(map[string]string, len(st.Filled))
	for k, v := range st.Filled {
		slotValues[k] = v
	}

	reply := e.confirmationText(t, slotValues, when, clientName)
	sess.Reset(true)

	return outcome{
		reply: reply,
		book: &appointments.Appointment{
			TenantID:        t.ID,
			ClientPhone:     sess.UserID,
			ClientName:      clientName,
			ScheduledFor:    when,
			Duration:        e.apptDuration,
			SlotValues:      slotValues,
			CalendarEventID: event.ID,
		},
		bookEventID: event.ID,
	}
}

func (e *Engine) nameSlotKey(t *tenants.Tenant) string {
	for _, spec := range t.SlotSpecs() {
		if spec.Kind == tenants.SlotKindName {
			return spec.Key
		}
	}
	return session.FactClientName
}

// resourceValue returns the first option-slot value, the resource that
// parallel-booking tenants partition their calendar by.
func (e *Engine) resourceValue(t *tenants.Tenant, st *session.State) string {
	for _, spec := range t.SlotSpecs() {
		if spec.Kind == tenants.SlotKindOption {
			if v, ok := st.Filled[spec.Key]; ok {
				return v
			}
		}
	}
	return ""
}

func (e *Engine) eventDescription(t *tenants.Tenant, filled map[string]string, phone string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reservado por el asistente de %s\nTeléfono: %s\n", t.Name, phone)
	for _, spec := range t.SlotSpecs() {
		if v, ok := filled[spec.Key]; ok {
			fmt.Fprintf(&sb, "%s: %s\n", spec.Label, v)
		}
	}
	return sb.String()
}

// confirmationText renders the tenant's confirmation template (or the
// default) and appends any collected slot not already covered by it, so
// the confirmation names every value the user gave.
func (e *Engine) confirmationText(t *tenants.Tenant, filled map[string]string, when time.Time, clientName string) string {
	display := nlp.FormatSpanish(when)
	data := map[string]string{
		"appointment_datetime_display": display,
		"client_name":                  clientName,
		"company_name":                 t.Name,
	}
	for k, v := range filled {
		data[k] = v
	}

	var reply string
	var err error
	if t.ConfirmationTemplate != "" {
		reply, err = interpolate(t.ConfirmationTemplate, data)
	} else {
		reply, err = e.catalog.Render(KindConfirmation, data)
	}
	if err != nil {
		e.logger.Error("dialog: confirmation template failed", "tenant_id", t.ID, "error", err)
		reply, _ = e.catalog.Render(KindConfirmation, data)
	}

	var details []string
	for _, spec := range t.SlotSpecs() {
		v, ok := filled[spec.Key]
		if !ok || spec.Kind == tenants.SlotKindName || spec.Kind == tenants.SlotKindDateTime {
			continue
		}
		if !strings.Contains(reply, v) {
			details = append(details, fmt.Sprintf("— %s: %s", spec.Label, v))
		}
	}
	if len(details) > 0 {
		reply += "\n" + strings.Join(details, "\n")
	}
	return reply
}

// startCancelling opens the cancellation sub-flow, first checking there is
// anything to cancel, then trying to resolve the target from the same
// message ("cancela mi cita del lunes a las 3").
func (e *Engine) startCancelling(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string) outcome {
	upcoming, err := e.appts.ListUpcoming(ctx, e.db, t.ID, sess.UserID, e.now())
	if err != nil {
		e.logger.Error("dialog: list upcoming failed", "tenant_id", t.ID, "error", err)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	if len(upcoming) == 0 {
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindNoCancellable)}
	}

	sess.State = session.State{
		Flow:   session.FlowCancelling,
		Cancel: &session.CancelState{Stage: session.CancelStageTarget},
	}
	return e.resolveCancelTarget(ctx, t, sess, text)
}

func (e *Engine) continueCancelling(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string) outcome {
	st := &sess.State
	if st.Cancel == nil {
		e.logger.Error("dialog: cancelling flow without cancel state", "tenant_id", t.ID)
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}

	switch st.Cancel.Stage {
	case session.CancelStageTarget:
		return e.resolveCancelTarget(ctx, t, sess, text)
	case session.CancelStageConfirm:
		return e.confirmCancellation(ctx, t, sess, text)
	default:
		e.logger.Error("dialog: unknown cancel stage", "tenant_id", t.ID, "stage", string(st.Cancel.Stage))
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
}

// resolveCancelTarget identifies which appointment the user means, by id or
// by datetime. An unresolvable message re-asks; a resolved-but-missing
// appointment ends the flow with "not found".
func (e *Engine) resolveCancelTarget(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string) outcome {
	var (
		appt *appointments.Appointment
		err  error
	)

	if id, ok := nlp.ExtractAppointmentID(text); ok {
		appt, err = e.appts.GetByID(ctx, e.db, t.ID, sess.UserID, id)
	} else {
		parser := nlp.NewDateTimeParser(t.Location())
		parser.Now = e.now
		when, ok := e.extractor.ExtractDateTime(ctx, text, parser)
		if !ok {
			// Nothing resolvable in the message; ask again, state unchanged.
			return outcome{reply: e.catalog.MustRender(KindCancelRequest)}
		}
		appt, err = e.appts.FindScheduledAt(ctx, e.db, t.ID, sess.UserID, when)
	}

	if errors.Is(err, appointments.ErrNotFound) {
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindCancelNotFound)}
	}
	if err != nil {
		e.logger.Error("dialog: cancel target lookup failed", "tenant_id", t.ID, "error", err)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	if appt.Status != appointments.StatusScheduled {
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindCancelNotFound)}
	}

	scheduledFor := appt.ScheduledFor.In(t.Location())
	sess.State.Cancel = &session.CancelState{
		Stage:         session.CancelStageConfirm,
		AppointmentID: appt.ID,
		ScheduledFor:  &scheduledFor,
	}

	reply, err := e.catalog.Render(KindCancelConfirmRequest, map[string]string{
		"appointment_datetime_display": nlp.FormatSpanish(scheduledFor),
	})
	if err != nil {
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	return outcome{reply: reply}
}

func (e *Engine) confirmCancellation(ctx context.Context, t *tenants.Tenant, sess *session.Session, text string) outcome {
	cancel := sess.State.Cancel
	if cancel.ScheduledFor == nil || cancel.AppointmentID == 0 {
		e.logger.Error("dialog: cancel confirmation without target", "tenant_id", t.ID)
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindError)}
	}
	display := nlp.FormatSpanish(cancel.ScheduledFor.In(t.Location()))

	switch {
	case nlp.IsNegative(text):
		sess.Reset(true)
		return outcome{reply: e.catalog.MustRender(KindCancelFlowExit)}

	case nlp.IsAffirmative(text):
		appt, err := e.appts.GetByID(ctx, e.db, t.ID, sess.UserID, cancel.AppointmentID)
		if errors.Is(err, appointments.ErrNotFound) {
			sess.Reset(true)
			return outcome{reply: e.catalog.MustRender(KindCancelNotFound)}
		}
		if err != nil {
			e.logger.Error("dialog: cancel lookup failed", "tenant_id", t.ID, "error", err)
			return outcome{reply: e.catalog.MustRender(KindError)}
		}

		reply, rErr := e.catalog.Render(KindCancelSuccess, map[string]string{
			"appointment_datetime_display": display,
		})
		if rErr != nil {
			reply = e.catalog.MustRender(KindGoodToGo)
		}
		sess.Reset(true)
		return outcome{
			reply:         reply,
			cancelID:      cancel.AppointmentID,
			deleteEventID: appt.CalendarEventID,
		}

	default:
		reply, err := e.catalog.Render(KindCancelConfirmRequest, map[string]string{
			"appointment_datetime_display": display,
		})
		if err != nil {
			return outcome{reply: e.catalog.MustRender(KindError)}
		}
		return outcome{reply: reply}
	}
}

// Trigger phrases the open-domain model may emit when it decides, from
// conversation context, that a flow should start.
var (
	scheduleTriggers = []string{"agendar tu cita", "agendemos", "para agendar", "te agendo"}
	cancelTriggers   = []string{"cancelar tu cita", "para cancelar", "te cancelo"}
)

// openDomain delegates to the model. If the reply signals a flow, via its
// structured conversation_state or a trigger phrase in the text, the
// conversation is promoted into that flow instead of stopping at the reply.
func (e *Engine) openDomain(ctx context.Context, t *tenants.Tenant, sess *session.Session, history []*messages.Message, intent nlp.Intent, text string) outcome {
	reply, err := e.responder.Reply(ctx, t, intent, sess, history, text)
	if err != nil {
		e.logger.Error("dialog: open-domain responder failed", "tenant_id", t.ID, "error", err)
		return outcome{reply: e.catalog.MustRender(KindUnknown)}
	}

	switch {
	case reply.ConversationState == "scheduling" || containsAny(reply.Text, scheduleTriggers):
		out := e.startScheduling(ctx, t, sess, text)
		out.reply = reply.Text + "\n\n" + out.reply
		return out
	case reply.ConversationState == "cancelling" || containsAny(reply.Text, cancelTriggers):
		out := e.startCancelling(ctx, t, sess, text)
		out.reply = reply.Text + "\n\n" + out.reply
		return out
	}
	return outcome{reply: reply.Text}
}

func containsAny(text string, phrases []string) bool {
	norm := nlp.Normalize(text)
	for _, p := range phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleProvider talks to Google Calendar with service account credentials.
// Tenants share one service account; each tenant's calendar is shared with
// it and addressed by calendar id.
type GoogleProvider struct {
	svc *gcal.Service
}

func NewGoogleProvider(ctx context.Context, credentialsFile string) (*GoogleProvider, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &GoogleProvider{svc: svc}, nil
}

func (g *GoogleProvider) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	call := g.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(50).
		Context(ctx)

	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		start, end, err := eventTimes(it)
		if err != nil {
			// All-day events carry a date but no datetime; they do not
			// block appointment slots.
			continue
		}
		events = append(events, Event{
			ID:          it.Id,
			Summary:     it.Summary,
			Description: it.Description,
			Start:       start,
			End:         end,
		})
	}
	return events, nil
}

func (g *GoogleProvider) CreateEvent(ctx context.Context, req EventRequest) (Event, error) {
	ev := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start: &gcal.EventDateTime{
			DateTime: req.Start.Format(time.RFC3339),
			TimeZone: req.Timezone,
		},
		End: &gcal.EventDateTime{
			DateTime: req.End.Format(time.RFC3339),
			TimeZone: req.Timezone,
		},
	}

	created, err := g.svc.Events.Insert(req.CalendarID, ev).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("calendar: insert event: %w", err)
	}
	return Event{
		ID:          created.Id,
		Summary:     created.Summary,
		Description: created.Description,
		Start:       req.Start,
		End:         req.End,
	}, nil
}

func (g *GoogleProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return nil
}

func eventTimes(it *gcal.Event) (time.Time, time.Time, error) {
	if it.Start == nil || it.End == nil || it.Start.DateTime == "" || it.End.DateTime == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar: event %s has no datetime", it.Id)
	}
	start, err := time.Parse(time.RFC3339, it.Start.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar: parse start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, it.End.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar: parse end: %w", err)
	}
	return start, end, nil
}

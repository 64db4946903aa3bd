package notify

import (
	"net/url"
	"strings"
	"time"
)

const (
	calendarBase   = "https://calendar.google.com/calendar/render"
	calendarLayout = "20060102T150405Z"
)

// CalendarEvent is what an "add to calendar" link pre-fills.
type CalendarEvent struct {
	Title    string
	Start    time.Time
	End      time.Time
	Details  string
	Location string
}

// CalendarLink builds a Google Calendar template URL. Times are written in
// UTC; details and location are only included when set.
func CalendarLink(evt CalendarEvent) string {
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", evt.Title)
	q.Set("dates", evt.Start.UTC().Format(calendarLayout)+"/"+evt.End.UTC().Format(calendarLayout))
	if d := strings.TrimSpace(evt.Details); d != "" {
		q.Set("details", d)
	}
	if l := strings.TrimSpace(evt.Location); l != "" {
		q.Set("location", l)
	}
	return calendarBase + "?" + q.Encode()
}

package alertquery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

const dayLayout = "2006-01-02"

// Stats summarizes the alerts created in a window.
type Stats struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Total       int       `json:"total"`
	Resolved    int       `json:"resolved"`
	FalseAlarms int       `json:"falseAlarms"`
	Critical    int       `json:"critical"`

	// MeanResolutionMinutes averages creation-to-resolution time over
	// RESOLVED alerts only. Nil when none were resolved.
	MeanResolutionMinutes *float64 `json:"meanResolutionMinutes,omitempty"`

	ByCategory map[alert.Category]int `json:"byCategory"`
	BySeverity map[alert.Severity]int `json:"bySeverity"`
	ByStatus   map[alert.Status]int   `json:"byStatus"`
	Daily      []DailyCount           `json:"daily"`
}

// DailyCount is the number of alerts created on one UTC day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Statistics aggregates alerts created in [from, to). The daily series
// covers every UTC day the window touches, including empty ones.
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (st *Stats, err error) {
	ctx, span := startSpan(ctx, "alertquery.Statistics")
	defer func() { finishSpan(span, err) }()

	from, to = from.UTC(), to.UTC()
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, &alert.Error{Code: alert.CodeInvalidInput, Message: "from must be before to", Fields: []string{"from", "to"}}
	}
	if to.Sub(from) > maxWindow {
		return nil, &alert.Error{Code: alert.CodeInvalidInput, Message: "window must not exceed 366 days", Fields: []string{"from", "to"}}
	}

	list, err := s.store.CreatedBetween(ctx, from, to)
	if err != nil {
		return nil, dependency("list alerts in window", err)
	}
	span.SetAttributes(attribute.Int("tripguard.query.alerts", len(list)))

	return aggregate(list, from, to), nil
}

func aggregate(list []*alert.Alert, from, to time.Time) *Stats {
	st := &Stats{
		From:       from,
		To:         to,
		Total:      len(list),
		ByCategory: make(map[alert.Category]int, len(alert.Categories)),
		BySeverity: make(map[alert.Severity]int, len(alert.Severities)),
		ByStatus:   make(map[alert.Status]int, 4),
	}

	perDay := make(map[string]int)
	var resolvedMinutes float64
	for _, a := range list {
		st.ByCategory[a.Category]++
		st.BySeverity[a.Severity]++
		st.ByStatus[a.Status]++
		perDay[a.CreatedAt.UTC().Format(dayLayout)]++

		if a.IsCritical() {
			st.Critical++
		}
		switch a.Status {
		case alert.StatusResolved:
			st.Resolved++
			if rt, ok := a.ResponseTime(); ok {
				resolvedMinutes += rt.Minutes()
			}
		case alert.StatusFalseAlarm:
			st.FalseAlarms++
		}
	}
	if st.Resolved > 0 {
		mean := geo.Round2(resolvedMinutes / float64(st.Resolved))
		st.MeanResolutionMinutes = &mean
	}

	first := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	last := to.Add(-time.Nanosecond)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		st.Daily = append(st.Daily, DailyCount{Date: key, Count: perDay[key]})
	}
	return st
}

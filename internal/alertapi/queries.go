package alertapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

const (
	defaultRadiusKm    = 5.0
	defaultStatsWindow = 7 * 24 * time.Hour
)

func (a *API) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fields []string
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		fields = append(fields, "lat")
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		fields = append(fields, "lon")
	}
	radius := defaultRadiusKm
	if s := q.Get("radius_km"); s != "" {
		if radius, err = strconv.ParseFloat(s, 64); err != nil {
			fields = append(fields, "radius_km")
		}
	}
	if len(fields) > 0 {
		a.writeError(w, r, badRequest("invalid query parameters", fields...))
		return
	}

	var statuses []alert.Status
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, alert.Status(strings.ToUpper(s)))
			}
		}
	}

	out, err := a.queries.FindNearby(r.Context(), geo.Point{Lon: lon, Lat: lat}, radius, statuses)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	to := a.now().UTC()
	var fields []string
	if s := q.Get("to"); s != "" {
		t, ok := parseTime(s)
		if !ok {
			fields = append(fields, "to")
		}
		to = t
	}
	from := to.Add(-defaultStatsWindow)
	if s := q.Get("from"); s != "" {
		t, ok := parseTime(s)
		if !ok {
			fields = append(fields, "from")
		}
		from = t
	}
	if len(fields) > 0 {
		a.writeError(w, r, badRequest("timestamps must be RFC 3339 or YYYY-MM-DD", fields...))
		return
	}

	st, err := a.queries.Statistics(r.Context(), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleStale(w http.ResponseWriter, r *http.Request) {
	threshold := 0
	if s := r.URL.Query().Get("threshold_minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			a.writeError(w, r, badRequest("threshold_minutes must be an integer", "threshold_minutes"))
			return
		}
		threshold = n
	}

	out, err := a.queries.Stale(r.Context(), threshold)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}

// parseTime accepts RFC 3339 timestamps and bare dates (UTC midnight).
func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

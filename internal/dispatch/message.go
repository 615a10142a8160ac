package dispatch

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

// Message is the notice text sent to a recipient.
type Message struct {
	AlertID string           `json:"alertId"`
	Kind    alert.NoticeKind `json:"kind"`
	Text    string           `json:"text"`
}

// Compose renders the notice text for a.
func Compose(a *alert.Alert, kind alert.NoticeKind) Message {
	var b strings.Builder
	switch kind {
	case alert.NoticeResolved:
		fmt.Fprintf(&b, "TripGuard: the %s alert for trip %s is resolved.", a.Category, a.TripReference)
		if a.ResolutionComment != "" {
			fmt.Fprintf(&b, " %s", a.ResolutionComment)
		}
	case alert.NoticeEscalated:
		fmt.Fprintf(&b, "TripGuard: the %s alert for trip %s was escalated to %s.", a.Category, a.TripReference, a.Severity)
		writeWhere(&b, a)
	default:
		who := "A passenger"
		if len(a.Occupants) > 0 && a.Occupants[0].Name != "" {
			who = a.Occupants[0].Name
		}
		fmt.Fprintf(&b, "TripGuard %s (%s): %s on trip %s needs help.", a.Category, a.Severity, who, a.TripReference)
		writeWhere(&b, a)
	}
	return Message{AlertID: a.ID, Kind: kind, Text: b.String()}
}

func writeWhere(b *strings.Builder, a *alert.Alert) {
	if a.Address != nil && a.Address.Locality != "" {
		fmt.Fprintf(b, " Near %s.", a.Address.Locality)
	}
	fmt.Fprintf(b, " https://maps.google.com/?q=%.5f,%.5f", a.Position.Lat, a.Position.Lon)
}

package alert

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/tripguard/internal/geo"
)

const (
	minDescriptionLen = 10
	maxDescriptionLen = 1000
	minCommentLen     = 10
	maxCommentLen     = 1000
	maxNameLen        = 100
	maxRelationLen    = 50
	maxReferenceLen   = 128
	minPhoneDigits    = 6
	maxPhoneDigits    = 15
)

// TriggerInput is the caller-supplied part of a new alert.
type TriggerInput struct {
	TripReference string         `json:"tripReference"`
	Position      *geo.Point     `json:"position"`
	Category      Category       `json:"category"`
	Severity      Severity       `json:"severity,omitempty"`
	Description   string         `json:"description"`
	Occupants     []Occupant     `json:"occupants"`
	Contacts      []ContactInput `json:"contacts,omitempty"`
}

// ContactInput is a contact to notify.
type ContactInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

// TransitionExtra carries data a transition may require.
type TransitionExtra struct {
	Comment string `json:"comment,omitempty"`
}

// ValidateTrigger normalizes in and checks every field, collecting all
// offending field names into a single InvalidInput error.
func ValidateTrigger(in *TriggerInput) error {
	var fields []string

	in.TripReference = strings.TrimSpace(in.TripReference)
	if in.TripReference == "" || utf8.RuneCountInString(in.TripReference) > maxReferenceLen {
		fields = append(fields, "tripReference")
	}

	if in.Position == nil || in.Position.Validate() != nil {
		fields = append(fields, "position")
	}

	in.Category = Category(strings.ToUpper(strings.TrimSpace(string(in.Category))))
	if !in.Category.Valid() {
		fields = append(fields, "category")
	}

	in.Severity = Severity(strings.ToUpper(strings.TrimSpace(string(in.Severity))))
	if in.Severity == "" {
		in.Severity = SeverityMedium
	}
	if !in.Severity.Valid() {
		fields = append(fields, "severity")
	}

	in.Description = strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(in.Description); n < minDescriptionLen || n > maxDescriptionLen {
		fields = append(fields, "description")
	}

	if len(in.Occupants) == 0 || len(in.Occupants) > MaxOccupants {
		fields = append(fields, "occupants")
	}
	if len(in.Contacts) > MaxContacts {
		fields = append(fields, "contacts")
	}
	for i := range in.Occupants {
		o := &in.Occupants[i]
		o.Identity = strings.TrimSpace(o.Identity)
		o.Name = strings.TrimSpace(o.Name)
		if !validName(o.Name) {
			fields = append(fields, fieldAt("occupants", i, "name"))
		}
		phone, ok := NormalizePhone(o.Phone)
		if !ok {
			fields = append(fields, fieldAt("occupants", i, "phone"))
		}
		o.Phone = phone
	}

	for i := range in.Contacts {
		for _, f := range normalizeContact(&in.Contacts[i]) {
			fields = append(fields, fieldAt("contacts", i, f))
		}
	}

	if len(fields) > 0 {
		return invalidInput("invalid alert", fields...)
	}
	return nil
}

// ValidateContact normalizes c and returns InvalidInput listing bad fields.
func ValidateContact(c *ContactInput) error {
	if fields := normalizeContact(c); len(fields) > 0 {
		return invalidInput("invalid contact", fields...)
	}
	return nil
}

// ValidateResolution enforces the comment requirement for terminal targets.
func ValidateResolution(to Status, extra *TransitionExtra) error {
	if !to.Terminal() {
		return nil
	}
	if extra == nil {
		return invalidInput("a resolution comment is required", "comment")
	}
	extra.Comment = strings.TrimSpace(extra.Comment)
	if n := utf8.RuneCountInString(extra.Comment); n < minCommentLen || n > maxCommentLen {
		return invalidInput("a resolution comment of 10 to 1000 characters is required", "comment")
	}
	return nil
}

// NormalizePhone strips common separators and checks the remainder is an
// optional leading '+' followed by 6-15 digits.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '/' || r == '\t':
			// separator
		default:
			return b.String(), false
		}
	}
	out := b.String()
	digits := strings.TrimPrefix(out, "+")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return out, false
	}
	return out, true
}

func normalizeContact(c *ContactInput) []string {
	var fields []string
	c.Name = strings.TrimSpace(c.Name)
	if !validName(c.Name) {
		fields = append(fields, "name")
	}
	phone, ok := NormalizePhone(c.Phone)
	if !ok {
		fields = append(fields, "phone")
	}
	c.Phone = phone
	c.Relation = strings.TrimSpace(c.Relation)
	if utf8.RuneCountInString(c.Relation) > maxRelationLen {
		fields = append(fields, "relation")
	}
	return fields
}

func validName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= maxNameLen
}

func fieldAt(coll string, i int, f string) string {
	return coll + "[" + strconv.Itoa(i) + "]." + f
}

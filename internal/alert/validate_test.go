package alert

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/linnemanlabs/tripguard/internal/geo"
)

func validInput() TriggerInput {
	return TriggerInput{
		TripReference: "  trip-42 ",
		Position:      &geo.Point{Lon: -4.02, Lat: 5.35},
		Category:      "sos",
		Description:   "  driver is threatening us  ",
		Occupants:     []Occupant{{Name: " Awa ", Phone: "+225 07 00 00 00 01"}},
	}
}

func TestValidateTrigger_Normalizes(t *testing.T) {
	t.Parallel()

	in := validInput()
	if err := ValidateTrigger(&in); err != nil {
		t.Fatalf("ValidateTrigger: %v", err)
	}
	if in.TripReference != "trip-42" {
		t.Errorf("TripReference = %q, want %q", in.TripReference, "trip-42")
	}
	if in.Category != CategorySOS {
		t.Errorf("Category = %q, want %q", in.Category, CategorySOS)
	}
	if in.Severity != SeverityMedium {
		t.Errorf("Severity = %q, want default %q", in.Severity, SeverityMedium)
	}
	if in.Description != "driver is threatening us" {
		t.Errorf("Description = %q", in.Description)
	}
	if in.Occupants[0].Name != "Awa" {
		t.Errorf("occupant name = %q, want %q", in.Occupants[0].Name, "Awa")
	}
	if in.Occupants[0].Phone != "+2250700000001" {
		t.Errorf("occupant phone = %q, want %q", in.Occupants[0].Phone, "+2250700000001")
	}
}

func TestValidateTrigger_Fields(t *testing.T) {
	t.Parallel()

	tooMany := func(n int) []Occupant {
		out := make([]Occupant, n)
		for i := range out {
			out[i] = Occupant{Name: "x", Phone: "0700000001"}
		}
		return out
	}

	tests := []struct {
		name  string
		edit  func(*TriggerInput)
		field string
	}{
		{"missing trip", func(in *TriggerInput) { in.TripReference = "   " }, "tripReference"},
		{"missing position", func(in *TriggerInput) { in.Position = nil }, "position"},
		{"latitude out of range", func(in *TriggerInput) { in.Position = &geo.Point{Lon: 0, Lat: 91} }, "position"},
		{"unknown category", func(in *TriggerInput) { in.Category = "THEFT" }, "category"},
		{"unknown severity", func(in *TriggerInput) { in.Severity = "HIGH" }, "severity"},
		{"short description", func(in *TriggerInput) { in.Description = " help me  " }, "description"},
		{"long description", func(in *TriggerInput) { in.Description = strings.Repeat("a", 1001) }, "description"},
		{"no occupants", func(in *TriggerInput) { in.Occupants = nil }, "occupants"},
		{"nine occupants", func(in *TriggerInput) { in.Occupants = tooMany(9) }, "occupants"},
		{"occupant phone", func(in *TriggerInput) { in.Occupants[0].Phone = "12ab" }, "occupants[0].phone"},
		{"occupant name", func(in *TriggerInput) { in.Occupants[0].Name = "" }, "occupants[0].name"},
		{"contact phone", func(in *TriggerInput) {
			in.Contacts = []ContactInput{{Name: "Kofi", Phone: "123"}}
		}, "contacts[0].phone"},
		{"too many contacts", func(in *TriggerInput) {
			in.Contacts = make([]ContactInput, MaxContacts+1)
			for i := range in.Contacts {
				in.Contacts[i] = ContactInput{Name: "c", Phone: "0700000001"}
			}
		}, "contacts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := validInput()
			tt.edit(&in)
			err := ValidateTrigger(&in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("err is %T, want *Error", err)
			}
			if !slices.Contains(e.Fields, tt.field) {
				t.Errorf("Fields = %v, want to contain %q", e.Fields, tt.field)
			}
		})
	}
}

func TestValidateTrigger_CollectsAllFields(t *testing.T) {
	t.Parallel()

	in := validInput()
	in.Category = ""
	in.Description = ""
	in.Position = nil

	err := ValidateTrigger(&in)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	want := []string{"position", "category", "description"}
	if !slices.Equal(e.Fields, want) {
		t.Errorf("Fields = %v, want %v", e.Fields, want)
	}
}

func TestValidateResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		to      Status
		comment string
		wantErr bool
	}{
		{"non-terminal needs nothing", StatusInProgress, "", false},
		{"resolved without comment", StatusResolved, "", true},
		{"resolved short comment", StatusResolved, "  ok done ", true},
		{"resolved ok", StatusResolved, "passenger safe at home", false},
		{"false alarm ok", StatusFalseAlarm, "pressed by mistake", false},
		{"false alarm short", StatusFalseAlarm, "oops", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			extra := TransitionExtra{Comment: tt.comment}
			err := ValidateResolution(tt.to, &extra)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+225 07-00.00/00(01)", "+2250700000001", true},
		{"0700000001", "0700000001", true},
		{"123456", "123456", true},
		{"12345", "12345", false},
		{"1234567890123456", "1234567890123456", false},
		{"07+00000001", "07", false},
		{"call me", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		if ok != tt.ok {
			t.Errorf("NormalizePhone(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
		if ok && got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package alert

var transitions = map[Status][]Status{
	StatusActive:     {StatusInProgress, StatusResolved, StatusFalseAlarm},
	StatusInProgress: {StatusActive, StatusResolved, StatusFalseAlarm},
	StatusResolved:   nil,
	StatusFalseAlarm: nil,
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalseAlarm
}

// Open reports whether s is ACTIVE or IN_PROGRESS.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusInProgress
}

// OpenStatuses is the default filter for proximity queries and the scope of
// the one-open-alert-per-trip rule.
var OpenStatuses = []Status{StatusActive, StatusInProgress}

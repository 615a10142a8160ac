package alert

var priorityTable = map[Category]map[Severity]int{
	CategorySOS:        {SeverityCritical: 5, SeverityMedium: 4, SeverityLow: 3},
	CategoryAccident:   {SeverityCritical: 5, SeverityMedium: 4, SeverityLow: 3},
	CategoryAggression: {SeverityCritical: 5, SeverityMedium: 4, SeverityLow: 3},
	CategoryMedical:    {SeverityCritical: 4, SeverityMedium: 3, SeverityLow: 2},
	CategoryBreakdown:  {SeverityCritical: 2, SeverityMedium: 2, SeverityLow: 1},
	CategoryOther:      {SeverityCritical: 3, SeverityMedium: 2, SeverityLow: 1},
}

// ComputePriority maps (category, severity) to a 1-5 priority. Unmapped
// combinations yield 1.
func ComputePriority(c Category, s Severity) int {
	if p, ok := priorityTable[c][s]; ok {
		return p
	}
	return 1
}

// IsCritical is true for CRITICAL severity or priority 4 and above.
func IsCritical(s Severity, priority int) bool {
	return s == SeverityCritical || priority >= 4
}

// Next returns the severity one step up. CRITICAL stays CRITICAL.
func (s Severity) Next() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium, SeverityCritical:
		return SeverityCritical
	default:
		return s
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityCritical:
		return true
	}
	return false
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := priorityTable[c]
	return ok
}

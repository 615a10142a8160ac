// Package alert provides the business boundary for trip emergency alerts.
// It defines the Service (validation, uniqueness, lifecycle, escalation,
// contact management, async notification hand-off), the Store interface
// (persistence), the error taxonomy, and the domain models.
package alert

package eventbus

// Event types published by the attendance components.
const (
	TypeCheckedIn       = "attendance.checked_in"
	TypeSweepCompleted  = "absence.sweep_completed"
	TypeReportGenerated = "report.generated"
	TypeReportEmpty     = "report.empty"
	TypeConfigReloaded  = "config.reloaded"
)

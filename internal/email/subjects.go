package email

const (
	subjectEscalationAlertFmt = "Escalation: order %s needs attention"
)

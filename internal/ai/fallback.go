package ai

import "fmt"

// FallbackMessage returns the deterministic line used when the assistant is
// unreachable or returns an empty message. Built purely from the request, so
// it is always available.
func FallbackMessage(req Request) string {
	switch req.Action {
	case ActionGreet:
		return fmt.Sprintf(
			"Hello! This is a confirmation call for %s. You have an appointment scheduled for %s at %s. Would you like to confirm this appointment, reschedule it, or cancel it?",
			req.PatientName, req.AppointmentDate, req.AppointmentTime,
		)
	case ActionConfirm:
		return fmt.Sprintf(
			"Perfect! Your appointment has been confirmed. We'll see you then, %s. Thank you and have a great day!",
			req.PatientName,
		)
	case ActionReschedule:
		return fmt.Sprintf(
			"I understand. Your appointment has been marked for rescheduling. Our team will contact you shortly to arrange a new time. Thank you, %s!",
			req.PatientName,
		)
	case ActionCancel:
		return fmt.Sprintf(
			"I've cancelled your appointment as requested. If you need to schedule a new appointment in the future, please don't hesitate to call us. Take care, %s!",
			req.PatientName,
		)
	}
	return fmt.Sprintf("Thank you for your time, %s.", req.PatientName)
}

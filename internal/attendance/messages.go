package attendance

import (
	"fmt"
	"html"
	"strings"

	"educheck/internal/school"
)

// EntryMessage is the guardian confirmation sent after a check-in. hhmm is
// the institutional wall-clock time of the check-in.
func EntryMessage(st school.Student, hhmm string) string {
	return fmt.Sprintf(
		"✅ Edu Check - Entrada Registrada\n\n%s con cédula %s del grado %d registró su entrada a las %s.",
		html.EscapeString(displayName(st)), html.EscapeString(st.Document), st.GradeNumber, hhmm,
	)
}

// AbsenceMessage is the alert sent by the daily sweep. hhmm is the configured alert time.
func AbsenceMessage(st school.Student, hhmm string) string {
	return fmt.Sprintf(
		"⚠️ Edu Check - Reporte de Ausencia\n\n%s con cédula %s del grado %d no ha registrado entrada hasta las %s.",
		html.EscapeString(displayName(st)), html.EscapeString(st.Document), st.GradeNumber, hhmm,
	)
}

func displayName(st school.Student) string {
	if n := st.FullName(); n != "" {
		return n
	}
	return strings.TrimSpace(st.Document)
}

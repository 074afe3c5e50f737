package constants

// SpecimenStatus is the canonical lifecycle state for rows in specimen.
type SpecimenStatus string

// Stable values (store these exact strings in DB).
const (
	SpecimenStatusPending      SpecimenStatus = "PENDING"      // registered, nothing transcribed yet
	SpecimenStatusDigitized    SpecimenStatus = "DIGITIZED"    // every available image transcribed
	SpecimenStatusConsolidated SpecimenStatus = "CONSOLIDATED" // terminal: consensus label assembled
	SpecimenStatusFailed       SpecimenStatus = "FAILED"       // terminal failure outside field scope
)

// SpecimenStatuses lists every value status columns accept.
var SpecimenStatuses = []string{
	string(SpecimenStatusPending),
	string(SpecimenStatusDigitized),
	string(SpecimenStatusConsolidated),
	string(SpecimenStatusFailed),
}

// RunStatus is the canonical status for rows in digitize_run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusOK      RunStatus = "OK"
	RunStatusFailed  RunStatus = "FAILED"
)

var RunStatuses = []string{
	string(RunStatusRunning),
	string(RunStatusOK),
	string(RunStatusFailed),
}

// FieldStatus is the per-field outcome of consensus building.
type FieldStatus string

const (
	FieldResolved    FieldStatus = "resolved"     // consensus reached
	FieldConflict    FieldStatus = "conflict"     // witnesses disagree beyond threshold
	FieldIncomplete  FieldStatus = "incomplete"   // no witness observed the field
	FieldNeedsReview FieldStatus = "needs-review" // arbitration failed, human decision required
)

package domain

// JobType tags the kind of work a job carries
type JobType string

const (
	JobTypeTranscription JobType = "transcription"
	JobTypeDubbing       JobType = "dubbing"
)

// JobStatus is the lifecycle status of a job
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// CanTransition enforces the monotonic job lifecycle.
// queued -> failed exists for data-integrity failures found before the claim.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusTimedOut
	default:
		return false
	}
}

// QCStatus is the human quality-control status of a segment or translation
type QCStatus string

const (
	QCStatusPending     QCStatus = "pending"
	QCStatusApproved    QCStatus = "approved"
	QCStatusRejected    QCStatus = "rejected"
	QCStatusNeedsReview QCStatus = "needs_review"
)

// DubStatus tracks review of a generated dub
type DubStatus string

const (
	DubStatusGenerated DubStatus = "generated"
	DubStatusApproved  DubStatus = "approved"
	DubStatusRejected  DubStatus = "rejected"
)

// Visibility of a recording to site audiences
type Visibility string

const (
	VisibilityPrivate     Visibility = "private"
	VisibilityMembers     Visibility = "members"
	VisibilityInstitution Visibility = "institution"
	VisibilityPublic      Visibility = "public"
)

// Valid reports whether v is a known visibility level
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityMembers, VisibilityInstitution, VisibilityPublic:
		return true
	default:
		return false
	}
}

// IsElevated reports whether v exposes the recording beyond its owners
func (v Visibility) IsElevated() bool {
	return v.Valid() && v != VisibilityPrivate
}

// Sensitivity marks culturally sensitive recordings
type Sensitivity string

const (
	SensitivityStandard Sensitivity = "standard"
	SensitivitySacred   Sensitivity = "sacred"
)

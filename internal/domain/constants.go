package domain

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobType selects the generation routine and the notification shape of a job
type JobType string

// Job type constants
const (
	JobTypeGenerateScript    JobType = "generate-script"
	JobTypeGenerateAudio     JobType = "generate-audio"
	JobTypeGenerateImage     JobType = "generate-image"
	JobTypeGenerateVoiceover JobType = "generate-voiceover"
	JobTypeProcessURL        JobType = "process-url"
)

// AllJobTypes lists every job type in default polling order
var AllJobTypes = []JobType{
	JobTypeGenerateScript,
	JobTypeGenerateAudio,
	JobTypeGenerateImage,
	JobTypeGenerateVoiceover,
	JobTypeProcessURL,
}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeGenerateScript, JobTypeGenerateAudio, JobTypeGenerateImage,
		JobTypeGenerateVoiceover, JobTypeProcessURL:
		return true
	}
	return false
}

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Entity types referenced by job payloads
const (
	EntityPodcast   = "podcast"
	EntityVoiceover = "voiceover"
	EntityDocument  = "document"
)

// RoleUser is the non-privileged role given to job-scoped identities
const RoleUser = "user"

package entity

type SubmissionCause string

const (
	CauseQuotaExceeded    SubmissionCause = "quota_exceeded"
	CauseInvalidInput     SubmissionCause = "invalid_input"
	CauseTransientNetwork SubmissionCause = "transient_network"
	CauseUnauthorized     SubmissionCause = "unauthorized"
)

// SubmissionRequest is what the external translation service consumes: a
// reachable source artifact and the desired output formats.
type SubmissionRequest struct {
	SourceURL string   `json:"source_url"`
	Formats   []string `json:"output_formats"`
}

type SubmissionError struct {
	Cause   SubmissionCause
	Message string
}

func (e *SubmissionError) Error() string {
	if e.Message == "" {
		return string(e.Cause)
	}
	return string(e.Cause) + ": " + e.Message
}

// Retryable reports whether the retry policy may resubmit after this error.
// invalid_input and unauthorized are never retried automatically.
func (e *SubmissionError) Retryable() bool {
	return e.Cause == CauseTransientNetwork || e.Cause == CauseQuotaExceeded
}

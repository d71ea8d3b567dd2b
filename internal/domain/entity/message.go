package entity

// TranslationRequestedMessage is published to the broker when a job is
// created or becomes due for resubmission. The consumer reloads the row, so
// the message only needs to carry the id.
type TranslationRequestedMessage struct {
	JobID string `json:"job_id"`
}

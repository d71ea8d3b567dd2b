package entity

type SignalType string

const (
	SignalStarted   SignalType = "started"
	SignalProgress  SignalType = "progress"
	SignalSucceeded SignalType = "succeeded"
	SignalFailed    SignalType = "failed"
)

// TranslationSignal is the normalized form of a status notification from the
// external translation service, regardless of whether it arrived over the
// webhook or the poll fallback. Webhooks and polls may race and duplicate;
// reconciliation absorbs replays and out-of-order delivery.
type TranslationSignal struct {
	ExternalReference string     `json:"external_reference"`
	Type              SignalType `json:"type"`
	Progress          int        `json:"progress"`
	ErrorCode         string     `json:"error_code"`
	Source            string     `json:"source"`
}

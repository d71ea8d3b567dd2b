// Package derivative talks to the external translation service that
// converts CAD/BIM geometry. The service is an opaque collaborator: jobs are
// identified by the reference it assigns at submission, and status flows
// back either through its webhooks or through the Status poll here.
package derivative

import (
	"context"
	"fmt"
	"time"

	"cadbridge/internal/domain/entity"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

type submitResponse struct {
	Reference string `json:"reference"`
}

type statusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ErrorCode string `json:"error_code"`
}

// Submit starts a translation and returns the reference the service
// assigned. Failures carry a machine-readable cause; timeouts and transport
// errors count as transient_network.
func (c *Client) Submit(ctx context.Context, req entity.SubmissionRequest) (string, error) {
	var out submitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/v1/translations")
	if err != nil {
		return "", &entity.SubmissionError{Cause: entity.CauseTransientNetwork, Message: err.Error()}
	}
	if resp.IsSuccess() {
		if out.Reference == "" {
			return "", &entity.SubmissionError{Cause: entity.CauseTransientNetwork, Message: "service returned no reference"}
		}
		return out.Reference, nil
	}
	return "", &entity.SubmissionError{
		Cause:   causeForStatus(resp.StatusCode()),
		Message: fmt.Sprintf("submission rejected with status %d", resp.StatusCode()),
	}
}

// Status is the poll fallback for jobs whose webhooks may never arrive. The
// answer is normalized into the same signal shape the webhook produces.
func (c *Client) Status(ctx context.Context, externalReference string) (entity.TranslationSignal, error) {
	var out statusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		SetPathParam("reference", externalReference).
		Get("/v1/translations/{reference}")
	if err != nil {
		return entity.TranslationSignal{}, err
	}
	if !resp.IsSuccess() {
		return entity.TranslationSignal{}, fmt.Errorf("status query for %s: http %d", externalReference, resp.StatusCode())
	}

	sig := entity.TranslationSignal{
		ExternalReference: externalReference,
		Progress:          out.Progress,
		ErrorCode:         out.ErrorCode,
	}
	switch out.Status {
	case "pending":
		sig.Type = entity.SignalProgress
		sig.Progress = 0
	case "started":
		sig.Type = entity.SignalStarted
	case "inprogress":
		sig.Type = entity.SignalProgress
	case "success":
		sig.Type = entity.SignalSucceeded
	case "failed":
		sig.Type = entity.SignalFailed
	default:
		return entity.TranslationSignal{}, fmt.Errorf("status query for %s: unknown status %q", externalReference, out.Status)
	}
	return sig, nil
}

func causeForStatus(code int) entity.SubmissionCause {
	switch {
	case code == 400 || code == 422:
		return entity.CauseInvalidInput
	case code == 401 || code == 403:
		return entity.CauseUnauthorized
	case code == 429:
		return entity.CauseQuotaExceeded
	default:
		return entity.CauseTransientNetwork
	}
}

package hits

import (
	"fmt"
	"net/http"
)

// RejectionError is returned when a tracking request is not stored. Status is
// the HTTP status to answer with and Reason the diagnostic header value.
type RejectionError struct {
	Status int
	Reason string

	outcome string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func siteNotFound() *RejectionError {
	return &RejectionError{Status: http.StatusBadRequest, Reason: "Site not found", outcome: OutcomeRejected}
}

func ignoredIP(ip string) *RejectionError {
	return &RejectionError{
		Status:  http.StatusAccepted,
		Reason:  fmt.Sprintf("Ignored because %s is in the IP ignore list", ip),
		outcome: OutcomeIgnored,
	}
}

func wrongBotValue(raw string) *RejectionError {
	return &RejectionError{Status: http.StatusBadRequest, Reason: fmt.Sprintf("Wrong value: b=%s", raw), outcome: OutcomeRejected}
}

func invalidRequest(err error) *RejectionError {
	return &RejectionError{Status: http.StatusBadRequest, Reason: fmt.Sprintf("Error: %s", err.Error()), outcome: OutcomeRejected}
}

func pathTooLong(n int) *RejectionError {
	return &RejectionError{
		Status:  http.StatusRequestURITooLong,
		Reason:  fmt.Sprintf("Ignored because path is longer than %d bytes (%d bytes)", MaxPathLength, n),
		outcome: OutcomeRejected,
	}
}

func storeError(err error) *RejectionError {
	return &RejectionError{Status: http.StatusBadRequest, Reason: fmt.Sprintf("Error: %s", err.Error()), outcome: OutcomeFailed}
}

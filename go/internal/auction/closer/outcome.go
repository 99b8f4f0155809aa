package closer

import (
	"context"
	"errors"
	"strings"

	"github.com/mcdev12/auctionsync/go/clients/authority_client"
)

// Outcome is the authority's verdict on a close request.
type Outcome int

const (
	// OutcomeUnknown covers empty, malformed and failed answers. It forces a
	// full reload.
	OutcomeUnknown Outcome = iota
	OutcomeClosed
	OutcomeRunning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClosed:
		return "closed"
	case OutcomeRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Reasons attached to unknown outcomes.
const (
	ReasonTransport    = "transport"
	ReasonTimeout      = "timeout"
	ReasonMalformed    = "malformed"
	ReasonUnrecognized = "unrecognized_status"
)

// CloseResponse is the interpreted verdict.
type CloseResponse struct {
	Outcome     Outcome
	MessageHTML string
	// Reason labels an unknown outcome.
	Reason string
	Err    error
}

// Interpret maps a finish_auction answer onto an outcome. A closed verdict
// without a message is not actionable and counts as malformed.
func Interpret(resp *authority_client.FinishAuctionResponse, err error) CloseResponse {
	switch {
	case err == nil && resp == nil:
		return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonMalformed}
	case errors.Is(err, context.DeadlineExceeded):
		return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonTimeout, Err: err}
	case errors.Is(err, authority_client.ErrMalformedResponse):
		return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonMalformed, Err: err}
	case err != nil:
		return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonTransport, Err: err}
	}

	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "closed":
		if strings.TrimSpace(resp.Message) == "" {
			return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonMalformed}
		}
		return CloseResponse{Outcome: OutcomeClosed, MessageHTML: resp.Message}
	case "running":
		return CloseResponse{Outcome: OutcomeRunning}
	default:
		return CloseResponse{Outcome: OutcomeUnknown, Reason: ReasonUnrecognized}
	}
}

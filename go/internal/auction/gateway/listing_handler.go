package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/internal/auction/listing"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

const maxCommandBytes = 64 * 1024

// ListingRunner runs listing sync cycles.
type ListingRunner interface {
	Run(ctx context.Context, req listing.SyncRequest) (listing.Result, error)
	Search(ctx context.Context, term string) (listing.Result, error)
}

// TokenVerifier checks bearer tokens on listing commands.
type TokenVerifier interface {
	Verify(raw string) (*jwt.RegisteredClaims, error)
}

// ListingHandler handles POST /api/listing/{action}
type ListingHandler struct {
	runner   ListingRunner
	verifier TokenVerifier
}

// NewListingHandler creates a listing handler. A nil verifier leaves the
// endpoint open.
func NewListingHandler(runner ListingRunner, verifier TokenVerifier) *ListingHandler {
	return &ListingHandler{runner: runner, verifier: verifier}
}

// listingCommand is the request body. Params values are strings or string
// lists.
type listingCommand struct {
	Params map[string]json.RawMessage `json:"params"`
	Term   *string                    `json:"term"`
}

func (c listingCommand) values() (url.Values, error) {
	out := url.Values{}
	for name, raw := range c.Params {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			out.Set(name, single)
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("param %q must be a string or a list of strings", name)
		}
		out[name] = list
	}
	return out, nil
}

func (h *ListingHandler) HandleListingAction(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	action, err := listing.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var cmd listingCommand
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	params, err := cmd.values()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result listing.Result
	if action == listing.ActionSearch {
		term := params.Get(listing.ParamSearchTerm)
		if cmd.Term != nil {
			term = *cmd.Term
		}
		result, err = h.runner.Search(r.Context(), term)
	} else {
		result, err = h.runner.Run(r.Context(), listing.SyncRequest{Action: action, Params: params})
	}

	switch {
	case err == nil:
		status := http.StatusOK
		if result.Scheduled {
			status = http.StatusAccepted
		}
		writeJSON(w, status, result)
	case errors.Is(err, page.ErrNoPageTemplate):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, listing.ErrUnknownAction):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Str("action", string(action)).Msg("listing action failed")
		writeJSON(w, http.StatusBadGateway, result)
	}
}

func (h *ListingHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.verifier == nil {
		return true
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeError(w, http.StatusUnauthorized, "bearer token required")
		return false
	}
	if _, err := h.verifier.Verify(raw); err != nil {
		log.Debug().Err(err).Msg("rejected listing command token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (h *ListingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/listing/{action}", h.HandleListingAction)
}

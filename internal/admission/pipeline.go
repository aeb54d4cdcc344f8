// Package admission orders the checks every chat-completion request passes
// before it is forwarded upstream: token auth, rate limit, quota, model
// allowlist, streaming rejection, forward, usage recording.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/models"
	"github.com/tokenrouter/tokenrouter/internal/quota"
	"github.com/tokenrouter/tokenrouter/internal/ratelimit"
	"github.com/tokenrouter/tokenrouter/internal/store"
	"github.com/tokenrouter/tokenrouter/internal/upstream"
	"github.com/tokenrouter/tokenrouter/internal/usage"
	"github.com/tokenrouter/tokenrouter/internal/util"
)

// ChatMessage is a single OpenAI-style chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the inbound OpenAI-compatible request body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Error is a terminal pipeline outcome carrying the HTTP status the caller
// should receive.
type Error struct {
	Status int    // HTTP status code.
	Detail string // Human-readable detail returned to the caller.
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Detail }

// Pipeline runs the fixed-order admission chain for every inbound request.
type Pipeline struct {
	cfg       *config.Config
	teams     *store.TeamStore
	limiter   ratelimit.Limiter
	forwarder *upstream.Forwarder
	recorder  *usage.Recorder
}

// NewPipeline wires the admission pipeline from its collaborators.
func NewPipeline(cfg *config.Config, teams *store.TeamStore, limiter ratelimit.Limiter, forwarder *upstream.Forwarder, recorder *usage.Recorder) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		teams:     teams,
		limiter:   limiter,
		forwarder: forwarder,
		recorder:  recorder,
	}
}

// Authenticate resolves the Authorization header to an active team. This is
// the only stage with no log side effect: the team is not yet identified when
// it fails.
func (p *Pipeline) Authenticate(ctx context.Context, authorization string) (*models.Team, error) {
	header := strings.TrimSpace(authorization)
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, &Error{Status: http.StatusUnauthorized, Detail: "Invalid authorization header format. Use 'Bearer <token>'"}
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, &Error{Status: http.StatusUnauthorized, Detail: "Token not provided"}
	}

	team, errGet := p.teams.GetByToken(ctx, token)
	if errGet != nil {
		if errors.Is(errGet, store.ErrTeamNotFound) {
			log.Debugf("admission: unknown token %s", util.MaskToken(token))
			return nil, &Error{Status: http.StatusUnauthorized, Detail: "Invalid token"}
		}
		log.WithError(errGet).Error("admission: token lookup failed")
		return nil, &Error{Status: http.StatusInternalServerError, Detail: "Authentication service error"}
	}

	if !team.IsActive {
		return nil, &Error{Status: http.StatusForbidden, Detail: "Team is inactive"}
	}
	return team, nil
}

// requestState is the mutable state threaded through the stage chain.
type requestState struct {
	team *models.Team
	raw  []byte
	req  *ChatCompletionRequest

	model    string // Canonical lowercase model name.
	payload  []byte // Normalized outbound payload, set by the forward stage.
	response []byte // Provider response, set on success.
	usage    upstream.Usage
}

// stage is one named step of the fixed admission order.
type stage struct {
	name string
	run  func(ctx context.Context, st *requestState) *Error
}

// stages returns the chain in its mandatory traversal order. The order is
// structural: tests exercise each stage in isolation, the slice enforces the
// sequence.
func (p *Pipeline) stages() []stage {
	return []stage{
		{name: "rate_limit", run: p.stageRateLimit},
		{name: "quota", run: p.stageQuota},
		{name: "model_allowed", run: p.stageModelAllowed},
		{name: "streaming", run: p.stageStreaming},
		{name: "forward", run: p.stageForward},
	}
}

// Process runs stages 2-7 for an authenticated team. Every invocation writes
// exactly one request log row, whatever the exit path; the write happens in a
// deferred step so rejections, upstream failures, and panics all land in the
// audit log.
func (p *Pipeline) Process(ctx context.Context, team *models.Team, raw []byte, req *ChatCompletionRequest) (response []byte, err error) {
	st := &requestState{
		team:  team,
		raw:   raw,
		req:   req,
		model: strings.ToLower(strings.TrimSpace(req.Model)),
	}

	entry := usage.Entry{
		TeamID: team.ID,
		Model:  st.model,
		Status: models.StatusError,
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			detail := fmt.Sprintf("Internal error: %v", recovered)
			log.WithField("team", team.Name).Errorf("admission: panic: %v", recovered)
			entry.Status = models.StatusError
			entry.ErrorMessage = detail
			entry.ResponseBody = nil
			response = nil
			err = &Error{Status: http.StatusInternalServerError, Detail: detail}
		}
		if _, errRecord := p.recorder.Record(ctx, entry); errRecord != nil {
			log.WithError(errRecord).Error("admission: failed to record attempt")
		}
	}()

	for _, sg := range p.stages() {
		rejection := sg.run(ctx, st)
		if rejection == nil {
			continue
		}
		entry.ErrorMessage = rejection.Detail
		if sg.name == "forward" {
			// Payload snapshots only exist once a request reaches forwarding.
			entry.RequestBody = st.payload
		}
		log.WithFields(log.Fields{
			"team":  team.Name,
			"stage": sg.name,
			"model": st.model,
		}).Warnf("admission: rejected: %s", rejection.Detail)
		return nil, rejection
	}

	entry = usage.Entry{
		TeamID:       team.ID,
		Model:        st.model,
		InputTokens:  st.usage.PromptTokens,
		OutputTokens: st.usage.CompletionTokens,
		Status:       models.StatusSuccess,
		RequestBody:  st.payload,
		ResponseBody: st.response,
	}

	if errCredit := p.recorder.Credit(ctx, team.ID, st.usage.TotalTokens); errCredit != nil {
		log.WithError(errCredit).Error("admission: usage credit failed")
		detail := fmt.Sprintf("Internal error: %v", errCredit)
		entry.Status = models.StatusError
		entry.ErrorMessage = detail
		entry.ResponseBody = nil
		return nil, &Error{Status: http.StatusInternalServerError, Detail: detail}
	}

	return st.response, nil
}

// stageRateLimit applies the team's trailing-window request ceiling.
func (p *Pipeline) stageRateLimit(ctx context.Context, st *requestState) *Error {
	allowed, errAllow := p.limiter.Allow(ctx, st.team.ID, st.team.MaxRequestsPerMinute)
	if errAllow != nil {
		log.WithError(errAllow).Error("admission: rate limiter failure")
		return &Error{Status: http.StatusInternalServerError, Detail: "Rate limiter unavailable"}
	}
	if !allowed {
		return &Error{
			Status: http.StatusTooManyRequests,
			Detail: fmt.Sprintf("Rate limit exceeded: %d requests per minute", st.team.MaxRequestsPerMinute),
		}
	}
	return nil
}

// stageQuota rejects teams whose counters have reached their allotment.
func (p *Pipeline) stageQuota(_ context.Context, st *requestState) *Error {
	if errCheck := quota.Check(st.team); errCheck != nil {
		return &Error{Status: http.StatusTooManyRequests, Detail: errCheck.Error()}
	}
	return nil
}

// stageModelAllowed matches the requested model against the allowlist,
// case-insensitively, enumerating the allowed models on rejection.
func (p *Pipeline) stageModelAllowed(_ context.Context, st *requestState) *Error {
	if p.cfg.ModelAllowed(st.req.Model) {
		return nil
	}
	return &Error{
		Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("Model '%s' not allowed. Allowed models: %s", st.req.Model, strings.Join(p.cfg.AllowedModels, ", ")),
	}
}

// stageStreaming rejects streaming requests; streaming is unsupported by
// design.
func (p *Pipeline) stageStreaming(_ context.Context, st *requestState) *Error {
	if st.req.Stream {
		return &Error{Status: http.StatusBadRequest, Detail: "Streaming is not supported"}
	}
	return nil
}

// stageForward normalizes the payload, relays it upstream, and extracts the
// provider-reported usage on success. A single attempt, no retries.
func (p *Pipeline) stageForward(ctx context.Context, st *requestState) *Error {
	payload, errNormalize := upstream.NormalizePayload(st.raw, st.req.Model)
	if errNormalize != nil {
		return &Error{Status: http.StatusInternalServerError, Detail: fmt.Sprintf("Internal error: %v", errNormalize)}
	}
	st.payload = payload

	response, errForward := p.forwarder.Forward(ctx, payload)
	if errForward != nil {
		var statusErr *upstream.StatusError
		if errors.As(errForward, &statusErr) {
			return &Error{Status: statusErr.Code, Detail: statusErr.Detail}
		}
		return &Error{Status: http.StatusInternalServerError, Detail: fmt.Sprintf("Unexpected error: %v", errForward)}
	}

	st.response = response
	st.usage = upstream.ExtractUsage(response)
	return nil
}

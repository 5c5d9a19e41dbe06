package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	workflowservice "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/auth"
	"github.com/designdrill/orchestrator/internal/config"
	"github.com/designdrill/orchestrator/internal/db"
	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/session"
	"github.com/designdrill/orchestrator/internal/streaming"
	"github.com/designdrill/orchestrator/internal/workflows"
)

const (
	maxRequestBody = 1 << 20
	signalTimeout  = 10 * time.Second
	startTimeout   = 15 * time.Second
)

// temporalClient is the slice of the Temporal client the interview handler
// uses. client.Client satisfies it; tests substitute a fake.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID string, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// InterviewHandler serves the interview lifecycle endpoints: start, status,
// the three resume points, report retrieval, cancellation, and the event
// timeline. All interview state lives in the workflow; the handler translates
// HTTP calls into queries and signals against it.
type InterviewHandler struct {
	cfg      *config.Config
	temporal temporalClient
	streams  *streaming.Manager
	sessions *session.Manager
	db       *db.Client
	logger   *zap.Logger
}

// NewInterviewHandler creates the handler. Sessions and db may be nil; the
// corresponding bookkeeping is skipped.
func NewInterviewHandler(cfg *config.Config, tc temporalClient, streams *streaming.Manager, sessions *session.Manager, dbc *db.Client, logger *zap.Logger) *InterviewHandler {
	return &InterviewHandler{
		cfg:      cfg,
		temporal: tc,
		streams:  streams,
		sessions: sessions,
		db:       dbc,
		logger:   logger,
	}
}

// RegisterRoutes registers the interview endpoints on the provided mux.
func (h *InterviewHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/interviews", h.handleStart)
	mux.HandleFunc("GET /api/v1/interviews/{id}", h.handleStatus)
	mux.HandleFunc("GET /api/v1/interviews/{id}/pending", h.handlePending)
	mux.HandleFunc("POST /api/v1/interviews/{id}/answers", h.handleAnswers)
	mux.HandleFunc("POST /api/v1/interviews/{id}/retry", h.handleRetry)
	mux.HandleFunc("POST /api/v1/interviews/{id}/decision", h.handleDecision)
	mux.HandleFunc("GET /api/v1/interviews/{id}/report", h.handleReport)
	mux.HandleFunc("DELETE /api/v1/interviews/{id}", h.handleCancel)
	mux.HandleFunc("GET /api/v1/interviews/{id}/events", h.handleEvents)
}

// startInterviewRequest is the expected payload for starting an interview.
type startInterviewRequest struct {
	Query     string            `json:"query"`
	Model     string            `json:"model"`
	SessionID string            `json:"session_id"`
	Context   map[string]string `json:"context"`
	MaxCycles int               `json:"max_cycles"`
}

// cancelInterviewRequest is the optional payload for a cancellation.
type cancelInterviewRequest struct {
	Reason string `json:"reason"`
}

func (h *InterviewHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeInterviewsWrite) {
		return
	}
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req startInterviewRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	sessionID, err := h.ensureSession(r.Context(), req.SessionID, uc)
	if err != nil {
		if errors.Is(err, errSessionOwnership) {
			writeError(w, http.StatusForbidden, "session belongs to another user")
			return
		}
		// The interview runs fine without session bookkeeping.
		h.logger.Warn("Session setup failed, starting without one", zap.Error(err))
		sessionID = ""
	}

	interviewID := "interview-" + uuid.New().String()
	model := req.Model
	if model == "" {
		model = h.cfg.LLM.Model
	}
	maxCycles := req.MaxCycles
	if maxCycles <= 0 {
		maxCycles = h.cfg.Interview.MaxCycles
	}

	input := workflows.InterviewInput{
		InterviewID:   interviewID,
		SessionID:     sessionID,
		UserID:        uc.UserID,
		Query:         req.Query,
		Model:         model,
		Context:       req.Context,
		MaxCycles:     maxCycles,
		AnswerTimeout: h.cfg.Interview.AnswerTimeout,
	}
	options := client.StartWorkflowOptions{
		ID:        interviewID,
		TaskQueue: h.cfg.Temporal.TaskQueue,
		// The memo carries ownership for the describe-based access checks.
		Memo: map[string]interface{}{
			"session_id": sessionID,
			"user_id":    uc.UserID,
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()
	run, err := h.temporal.ExecuteWorkflow(ctx, options, workflows.InterviewWorkflow, input)
	if err != nil {
		h.logger.Error("Failed to start interview workflow",
			zap.String("interview_id", interviewID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start interview")
		return
	}

	h.logger.Info("Interview started",
		zap.String("interview_id", interviewID),
		zap.String("session_id", sessionID),
		zap.String("run_id", run.GetRunID()))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"interview_id": interviewID,
		"session_id":   sessionID,
		"run_id":       run.GetRunID(),
		"status":       "started",
	})
}

func (h *InterviewHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeInterviewsRead) {
		return
	}
	id := r.PathValue("id")
	desc, ok := h.describe(w, r, id)
	if !ok {
		return
	}

	var state workflows.InterviewState
	err := h.query(r.Context(), id, workflows.QueryInterviewState, &state)
	if err == nil {
		writeJSON(w, http.StatusOK, state)
		return
	}
	h.logger.Warn("State query failed, serving fallback status",
		zap.String("interview_id", id), zap.Error(err))

	// Degraded path: Temporal execution status plus whatever the database
	// still holds about the run.
	state = workflows.InterviewState{
		InterviewID: id,
		Phase:       phaseFromStatus(desc.GetWorkflowExecutionInfo().GetStatus()),
	}
	if h.db != nil {
		if row, err := h.db.GetInterview(r.Context(), id); err == nil && row != nil {
			state.Phase = row.Phase
			state.Cycle = row.CyclesUsed
			state.TokensUsed = row.TotalTokens
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *InterviewHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeInterviewsRead) {
		return
	}
	id := r.PathValue("id")
	desc, ok := h.describe(w, r, id)
	if !ok {
		return
	}

	var pending *interview.PendingInteraction
	if err := h.query(r.Context(), id, workflows.QueryPendingInteraction, &pending); err != nil {
		h.logger.Error("Pending interaction query failed",
			zap.String("interview_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "cannot reach interview state")
		return
	}

	resp := map[string]interface{}{
		"interview_id": id,
		"pending":      pending,
	}
	if pending == nil {
		// Nothing pending is ambiguous on its own: the interview may be
		// between questions or finished. The phase disambiguates.
		var state workflows.InterviewState
		if err := h.query(r.Context(), id, workflows.QueryInterviewState, &state); err == nil {
			resp["phase"] = state.Phase
		} else {
			resp["phase"] = phaseFromStatus(desc.GetWorkflowExecutionInfo().GetStatus())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InterviewHandler) handleAnswers(w http.ResponseWriter, r *http.Request) {
	h.handleResume(w, r, interview.PointVerification, workflows.SignalVerificationAnswers)
}

func (h *InterviewHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.handleResume(w, r, interview.PointRetry, workflows.SignalRetryGuidance)
}

func (h *InterviewHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	h.handleResume(w, r, interview.PointNextSteps, workflows.SignalNextSteps)
}

// handleResume is the shared path for the three resume endpoints: confirm the
// workflow is waiting at the matching point, validate the payload shape, then
// forward the raw JSON as a signal. Validation here gives callers a typed
// error instead of the silent drop a bad signal would get from the workflow.
func (h *InterviewHandler) handleResume(w http.ResponseWriter, r *http.Request, point, signalName string) {
	if !requireScopes(w, r, auth.ScopeInterviewsWrite) {
		return
	}
	id := r.PathValue("id")
	desc, ok := h.describe(w, r, id)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var pending *interview.PendingInteraction
	if err := h.query(r.Context(), id, workflows.QueryPendingInteraction, &pending); err != nil {
		h.logger.Error("Pending interaction query failed",
			zap.String("interview_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "cannot reach interview state")
		return
	}
	if pending == nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "no pending interaction",
			"phase": phaseFromStatus(desc.GetWorkflowExecutionInfo().GetStatus()),
		})
		return
	}
	if pending.Point != point {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":         fmt.Sprintf("interview is not waiting for %s input", point),
			"pending_point": pending.Point,
		})
		return
	}
	if err := interview.ValidateResume(point, body); err != nil {
		detail := err.Error()
		var shapeErr *interview.ShapeError
		if errors.As(err, &shapeErr) {
			detail = shapeErr.Detail
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "resume_shape_mismatch",
			"point":  point,
			"detail": detail,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), signalTimeout)
	defer cancel()
	if err := h.temporal.SignalWorkflow(ctx, id, "", signalName, json.RawMessage(body)); err != nil {
		h.logger.Error("Failed to signal interview",
			zap.String("interview_id", id),
			zap.String("signal", signalName),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to signal interview")
		return
	}

	h.recordInteraction(r.Context(), memoValue(desc, "session_id"), id, point, body)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "sent",
		"interview_id": id,
		"point":        point,
	})
}

func (h *InterviewHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeReportsRead) {
		return
	}
	id := r.PathValue("id")
	desc, ok := h.describe(w, r, id)
	if !ok {
		return
	}

	var report string
	source := "workflow"
	if err := h.query(r.Context(), id, workflows.QueryFinalReport, &report); err != nil {
		h.logger.Warn("Report query failed, trying database",
			zap.String("interview_id", id), zap.Error(err))
		report = ""
	}
	if report == "" && h.db != nil {
		if row, err := h.db.GetReport(r.Context(), id); err == nil && row != nil {
			report = row.Content
			source = "db"
		}
	}
	if report == "" {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "report not ready",
			"phase": phaseFromStatus(desc.GetWorkflowExecutionInfo().GetStatus()),
		})
		return
	}

	if r.URL.Query().Get("raw") == "true" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, report)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interview_id": id,
		"report":       report,
		"format":       "markdown",
		"source":       source,
	})
}

func (h *InterviewHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeInterviewsWrite) {
		return
	}
	id := r.PathValue("id")
	desc, ok := h.describe(w, r, id)
	if !ok {
		return
	}
	if desc.GetWorkflowExecutionInfo().GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "interview already finished",
			"phase": phaseFromStatus(desc.GetWorkflowExecutionInfo().GetStatus()),
		})
		return
	}

	var req cancelInterviewRequest
	body, ok := readOptionalBody(w, r)
	if !ok {
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	requestedBy := ""
	if uc, err := auth.GetUserContext(r.Context()); err == nil {
		requestedBy = uc.UserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), signalTimeout)
	defer cancel()
	err := h.temporal.SignalWorkflow(ctx, id, "", workflows.SignalCancel, workflows.CancelRequest{
		Reason:      req.Reason,
		RequestedBy: requestedBy,
	})
	if err != nil {
		h.logger.Error("Failed to signal cancellation",
			zap.String("interview_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to signal interview")
		return
	}

	h.logger.Info("Interview cancellation requested",
		zap.String("interview_id", id),
		zap.String("requested_by", requestedBy))

	// Cancellation lands at the next wait point, so this is an accepted
	// request, not a completed one.
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "canceling",
		"interview_id": id,
	})
}

func (h *InterviewHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireScopes(w, r, auth.ScopeInterviewsRead) {
		return
	}
	id := r.PathValue("id")
	if _, ok := h.describe(w, r, id); !ok {
		return
	}

	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			since = n
		}
	}

	events := h.streams.ReplaySince(id, since)
	if len(events) == 0 {
		// An empty ring usually means a restart emptied it; the Redis
		// mirror still carries the history.
		mirrored, err := h.streams.ReplayMirror(r.Context(), id, since)
		if err != nil {
			h.logger.Warn("Mirror replay failed",
				zap.String("interview_id", id), zap.Error(err))
		} else {
			events = mirrored
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interview_id": id,
		"events":       events,
		"count":        len(events),
	})
}

// errSessionOwnership marks a session_id supplied by a non-owner.
var errSessionOwnership = errors.New("session owned by another user")

// ensureSession resolves the session an interview should attach to: the
// caller's named session when it exists and belongs to them, a fresh one
// otherwise. The workflow's first activity attaches the interview ref.
func (h *InterviewHandler) ensureSession(ctx context.Context, requested string, uc *auth.UserContext) (string, error) {
	if h.sessions == nil {
		return "", nil
	}
	if requested == "" {
		sess, err := h.sessions.CreateSession(ctx, uc.UserID, nil)
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}
	sess, err := h.sessions.GetSession(ctx, requested)
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
		created, cerr := h.sessions.CreateSessionWithID(ctx, requested, uc.UserID, nil)
		if cerr != nil {
			return "", cerr
		}
		return created.ID, nil
	}
	if err != nil {
		return "", err
	}
	if sess.UserID != uc.UserID && uc.Role != auth.RoleAdmin {
		return "", errSessionOwnership
	}
	return sess.ID, nil
}

// recordInteraction appends a human input to the session's exchange log.
// Best-effort: the workflow history is the durable record.
func (h *InterviewHandler) recordInteraction(ctx context.Context, sessionID, interviewID, point string, body []byte) {
	if h.sessions == nil || sessionID == "" {
		return
	}
	in := session.Interaction{InterviewID: interviewID, Node: point}
	switch point {
	case interview.PointVerification:
		resume, err := interview.DecodeAnswers(body)
		if err != nil {
			return
		}
		in.Kind = session.InteractionAnswer
		in.Content = strings.Join(resume.Answers, "\n")
	case interview.PointRetry:
		resume, err := interview.DecodeRetry(body)
		if err != nil {
			return
		}
		in.Kind = session.InteractionGuidance
		in.Content = resume.Guidance
	case interview.PointNextSteps:
		resume, err := interview.DecodeNextSteps(body)
		if err != nil {
			return
		}
		in.Kind = session.InteractionDecision
		in.Content = resume.NextAction
		if resume.NewInput != "" {
			in.Metadata = map[string]interface{}{"new_input": resume.NewInput}
		}
	default:
		return
	}
	if err := h.sessions.RecordInteraction(ctx, sessionID, in); err != nil {
		h.logger.Warn("Failed to record interaction",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// describe loads the workflow execution and enforces ownership from its memo.
// Both an unknown interview and someone else's interview read as 404 so the
// endpoint does not leak which IDs exist.
func (h *InterviewHandler) describe(w http.ResponseWriter, r *http.Request, id string) (*workflowservice.DescribeWorkflowExecutionResponse, bool) {
	desc, err := h.temporal.DescribeWorkflowExecution(r.Context(), id, "")
	if err != nil || desc.GetWorkflowExecutionInfo() == nil {
		writeError(w, http.StatusNotFound, "interview not found")
		return nil, false
	}
	if owner := memoValue(desc, "user_id"); owner != "" {
		uc, err := auth.GetUserContext(r.Context())
		if err != nil || (uc.UserID != owner && uc.Role != auth.RoleAdmin) {
			writeError(w, http.StatusNotFound, "interview not found")
			return nil, false
		}
	}
	return desc, true
}

// query runs a workflow query and decodes the answer into out.
func (h *InterviewHandler) query(ctx context.Context, id, queryType string, out interface{}) error {
	val, err := h.temporal.QueryWorkflow(ctx, id, "", queryType)
	if err != nil {
		return err
	}
	return val.Get(out)
}

// memoValue reads a string field from the execution memo.
func memoValue(desc *workflowservice.DescribeWorkflowExecutionResponse, key string) string {
	info := desc.GetWorkflowExecutionInfo()
	if info == nil || info.Memo == nil {
		return ""
	}
	field, ok := info.Memo.Fields[key]
	if !ok || field == nil {
		return ""
	}
	var v string
	if err := converter.GetDefaultDataConverter().FromPayload(field, &v); err != nil {
		return ""
	}
	return v
}

// phaseFromStatus maps a Temporal execution status onto the interview phase
// vocabulary for responses served without a live state query.
func phaseFromStatus(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return interview.PhaseDone
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return interview.PhaseCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return interview.PhaseFailed
	default:
		return interview.PhaseRunning
	}
}

// readBody reads a required JSON body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, ok := readOptionalBody(w, r)
	if !ok {
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "request body required")
		return nil, false
	}
	return body, true
}

func readOptionalBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return nil, false
	}
	return body, true
}

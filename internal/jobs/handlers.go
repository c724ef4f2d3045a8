package jobs

import (
	"fmt"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	"github.com/villatrans/carnet-backend/internal/services"
)

// CarnetGenerateHandler runs one per-driver generation unit. Unit outcomes
// live on the session, not on the job: once the unit ran with a session
// attached, its success or failure is already counted there and the job is
// marked succeeded either way. The job only fails (and retries) when the
// unit could not be dispatched at all, which happens before any counter
// moves.
type CarnetGenerateHandler struct {
	log         *logger.Logger
	carnet      services.CarnetService
	sessionRepo repos.SessionRepo
}

func NewCarnetGenerateHandler(baseLog *logger.Logger, carnet services.CarnetService, sessionRepo repos.SessionRepo) *CarnetGenerateHandler {
	return &CarnetGenerateHandler{
		log:         baseLog.With("handler", domain.JobTypeCarnetGenerate),
		carnet:      carnet,
		sessionRepo: sessionRepo,
	}
}

func (h *CarnetGenerateHandler) Type() string { return domain.JobTypeCarnetGenerate }

func (h *CarnetGenerateHandler) Run(jc *Context) error {
	driverID, ok := jc.PayloadUUID("driver_id")
	if !ok {
		err := fmt.Errorf("payload missing driver_id")
		jc.Fail(err)
		return err
	}
	templateID, ok := jc.PayloadUUID("template_id")
	if !ok {
		err := fmt.Errorf("payload missing template_id")
		jc.Fail(err)
		return err
	}
	sessionID, ok := jc.PayloadUUID("session_id")
	if !ok {
		err := fmt.Errorf("payload missing session_id")
		jc.Fail(err)
		return err
	}

	session, err := h.sessionRepo.GetByID(jc.Ctx, nil, sessionID)
	if err != nil {
		jc.Fail(fmt.Errorf("load session %s: %w", sessionID, err))
		return err
	}
	if session == nil {
		err := fmt.Errorf("session %s not found", sessionID)
		jc.Fail(err)
		return err
	}

	if _, genErr := h.carnet.GenerateForDriver(jc.Ctx, nil, driverID, templateID, session, true); genErr != nil {
		h.log.Warn("Generation unit failed", "driverID", driverID, "sessionID", sessionID, "error", genErr)
		jc.Succeed(fmt.Sprintf("unit failed: %v", genErr))
		return nil
	}
	jc.Succeed("")
	return nil
}

// SessionFinalizeHandler packages a completed session. Finalization is
// idempotent against terminal sessions, so a retry after a worker crash is
// safe.
type SessionFinalizeHandler struct {
	log       *logger.Logger
	finalizer services.FinalizerService
}

func NewSessionFinalizeHandler(baseLog *logger.Logger, finalizer services.FinalizerService) *SessionFinalizeHandler {
	return &SessionFinalizeHandler{
		log:       baseLog.With("handler", domain.JobTypeSessionFinalize),
		finalizer: finalizer,
	}
}

func (h *SessionFinalizeHandler) Type() string { return domain.JobTypeSessionFinalize }

func (h *SessionFinalizeHandler) Run(jc *Context) error {
	sessionID, ok := jc.PayloadUUID("session_id")
	if !ok {
		err := fmt.Errorf("payload missing session_id")
		jc.Fail(err)
		return err
	}
	if err := h.finalizer.Finalize(jc.Ctx, nil, sessionID); err != nil {
		jc.Fail(err)
		return err
	}
	jc.Succeed("")
	return nil
}

package workshop

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"

	"github.com/workshopkit/workshop/pkg/enums/role"
	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

type Handler struct {
	logger    aqm.Logger
	config    *aqm.Config
	tlm       *telemetry.HTTP
	validator *payloadValidator
	sessions  *SessionStore

	jobs      jobcard.JobStore
	invoices  jobcard.InvoiceStore
	customers jobcard.CustomerDirectory
	vehicles  jobcard.VehicleDirectory
	catalog   *jobcard.Catalog
	comments  jobcard.CommentStore
	drafts    jobcard.KV
	publisher events.Publisher
	channel   jobcard.PushChannel
}

type HandlerDeps struct {
	Jobs      jobcard.JobStore
	Invoices  jobcard.InvoiceStore
	Customers jobcard.CustomerDirectory
	Vehicles  jobcard.VehicleDirectory
	Catalog   *jobcard.Catalog
	Comments  jobcard.CommentStore
	Drafts    jobcard.KV
	Publisher events.Publisher
	Channel   jobcard.PushChannel
	Sessions  *SessionStore
}

func NewHandler(hd HandlerDeps, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	sessions := hd.Sessions
	if sessions == nil {
		ttl := DefaultSessionTTL
		if config != nil {
			if raw, ok := config.GetString("sessions.ttl"); ok && raw != "" {
				if parsed, err := time.ParseDuration(raw); err == nil {
					ttl = parsed
				}
			}
		}
		sessions = NewSessionStore(ttl)
	}

	drafts := hd.Drafts
	if drafts == nil {
		drafts = jobcard.NewMemoryKV()
	}

	catalog := hd.Catalog
	if catalog == nil {
		catalog = jobcard.NewCatalog(nil, nil, logger)
	}

	return &Handler{
		logger:    logger,
		config:    config,
		tlm:       telemetry.NewHTTP(),
		validator: newPayloadValidator(),
		sessions:  sessions,
		jobs:      hd.Jobs,
		invoices:  hd.Invoices,
		customers: hd.Customers,
		vehicles:  hd.Vehicles,
		catalog:   catalog,
		comments:  hd.Comments,
		drafts:    drafts,
		publisher: hd.Publisher,
		channel:   hd.Channel,
	}
}

func (h *Handler) Sessions() *SessionStore {
	return h.sessions
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobcards/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.withSession("Handler.GetView", h.GetView))
			r.Delete("/", h.CloseSession)
			r.Get("/events", h.withSession("Handler.StreamEvents", h.StreamEvents))
			r.Get("/notices", h.withSession("Handler.DrainNotices", h.DrainNotices))

			r.Get("/catalog", h.withSession("Handler.GetCatalog", h.GetCatalog))
			r.Post("/catalog/services", h.withSession("Handler.CreateCatalogEntry", h.CreateCatalogEntry))
			r.Delete("/catalog/services/{entryID}", h.withSession("Handler.DeleteCatalogEntry", h.DeleteCatalogEntry))

			r.Put("/customer", h.withSession("Handler.SelectCustomer", h.SelectCustomer))
			r.Post("/customers", h.withSession("Handler.CreateCustomer", h.CreateCustomer))
			r.Put("/vehicle", h.withSession("Handler.SelectVehicle", h.SelectVehicle))
			r.Post("/vehicles", h.withSession("Handler.CreateVehicle", h.CreateVehicle))
			r.Put("/technician", h.withSession("Handler.AssignTechnician", h.AssignTechnician))
			r.Put("/supervisor", h.withSession("Handler.AssignSupervisor", h.AssignSupervisor))
			r.Put("/notes", h.withSession("Handler.SetNotes", h.SetNotes))
			r.Put("/overall-comment", h.withSession("Handler.SetOverallComment", h.SetOverallComment))

			r.Route("/items", func(r chi.Router) {
				r.Post("/", h.withSession("Handler.AddLineItem", h.AddLineItem))
				r.Put("/", h.withSession("Handler.ReplaceLineItems", h.ReplaceLineItems))
				r.Post("/inventory", h.withSession("Handler.AddInventoryItem", h.AddInventoryItem))
				r.Delete("/{itemID}", h.withSession("Handler.RemoveLineItem", h.RemoveLineItem))
				r.Put("/{itemID}/price", h.withSession("Handler.EditLineItemPrice", h.EditLineItemPrice))
				r.Put("/{itemID}/duration", h.withSession("Handler.EditLineItemDuration", h.EditLineItemDuration))
				r.Post("/{itemID}/toggle", h.withSession("Handler.ToggleLineItem", h.ToggleLineItem))
				r.Put("/{itemID}/details", h.withSession("Handler.CaptureLineItemDetails", h.CaptureLineItemDetails))
			})

			r.Post("/create", h.withSession("Handler.CreateJob", h.CreateJob))
			r.Post("/start", h.withSession("Handler.StartWork", h.StartWork))
			r.Post("/complete", h.withSession("Handler.MarkComplete", h.MarkComplete))
			r.Post("/save", h.withSession("Handler.SaveJob", h.SaveJob))
			r.Delete("/job", h.withSession("Handler.DeleteJob", h.DeleteJob))
			r.Delete("/draft", h.withSession("Handler.DiscardDraft", h.DiscardDraft))

			r.Get("/comments", h.withSession("Handler.ListComments", h.ListComments))
			r.Post("/comments", h.withSession("Handler.PostComment", h.PostComment))
		})
	})
}

// call carries what every session-scoped handler needs.
type call struct {
	log     aqm.Logger
	session *Session
	actor   jobcard.Actor
}

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, c call)

func (h *Handler) withSession(span string, next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w, r, finish := h.tlm.Start(w, r, span)
		defer finish()

		log := h.log(r)
		session, ok := h.lookupSession(w, r, log)
		if !ok {
			return
		}
		next(w, r, call{
			log:     log.With("session_id", session.ID),
			session: session,
			actor:   actorFrom(r),
		})
	}
}

type SessionResponse struct {
	SessionID string           `json:"sessionId"`
	View      jobcard.View     `json:"view"`
	Notices   []jobcard.Notice `json:"notices"`
}

// OpenSession mounts a job card engine. An empty jobId opens a new card and
// restores the operator's draft.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OpenSession")
	defer finish()

	log := h.log(r)
	actor := actorFrom(r)

	var req OpenSessionRequest
	if !h.decodePayload(w, r, log, &req) {
		return
	}

	session := newSession(ownerOf(actor), h.sessions.ttl)
	session.Engine = h.newEngine(session)

	if err := session.Engine.Open(r.Context(), req.JobID); err != nil {
		h.respondEngineError(w, log, err)
		return
	}

	h.startFeed(r.Context(), session, log)

	if err := h.sessions.Save(session); err != nil {
		log.Error("cannot save session", "error", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not open job card")
		return
	}

	log.Info("job card session opened", "session_id", session.ID, "job_id", req.JobID, "owner", session.OwnerID)

	aqm.Respond(w, http.StatusCreated, SessionResponse{
		SessionID: session.ID,
		View:      session.Engine.View(actor),
		Notices:   session.DrainNotices(),
	}, nil)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CloseSession")
	defer finish()

	sessionID := chi.URLParam(r, "sessionID")
	h.sessions.Delete(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetView(w http.ResponseWriter, r *http.Request, c call) {
	h.respondView(w, c)
}

func (h *Handler) DrainNotices(w http.ResponseWriter, r *http.Request, c call) {
	aqm.RespondSuccess(w, c.session.DrainNotices())
}

func (h *Handler) newEngine(session *Session) *jobcard.Engine {
	return jobcard.NewEngine(jobcard.Deps{
		Jobs:      h.jobs,
		Invoices:  h.invoices,
		Customers: h.customers,
		Vehicles:  h.vehicles,
		Catalog:   h.catalog,
		Drafts:    jobcard.NewDraftStore(h.drafts, session.OwnerID, h.logger),
		Publisher: h.publisher,
		Notifier:  session,
	}, h.logger)
}

// startFeed attaches an activity feed once the session's job has an id.
func (h *Handler) startFeed(ctx context.Context, session *Session, log aqm.Logger) {
	jobID := session.Engine.Job().ID
	if jobID == "" {
		return
	}
	if feed := session.Feed(); feed != nil && feed.JobID() == jobID {
		return
	}

	feed := jobcard.NewFeed(jobID, jobcard.FeedDeps{
		Comments:   h.comments,
		Channel:    h.channel,
		Publisher:  h.publisher,
		Reconciler: sessionReconciler{session: session},
		Notifier:   session,
	}, h.logger)
	session.attachFeed(feed)

	if err := feed.Start(context.WithoutCancel(ctx)); err != nil {
		log.Error("activity feed start failed", "job_id", jobID, "error", err)
	}
}

func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request, log aqm.Logger) (*Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		log.Debug("missing session id parameter")
		aqm.RespondError(w, http.StatusBadRequest, "Missing session id")
		return nil, false
	}

	session, err := h.sessions.Get(sessionID)
	if err != nil {
		log.Debug("session lookup failed", "session_id", sessionID, "error", err)
		h.respondEngineError(w, log, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) respondView(w http.ResponseWriter, c call) {
	aqm.RespondSuccess(w, h.sessionResponse(c))
}

// respondEngineError maps engine errors onto HTTP status codes.
func (h *Handler) respondEngineError(w http.ResponseWriter, log aqm.Logger, err error) {
	var validation *jobcard.ValidationError
	var capture *jobcard.DetailCaptureRequired

	switch {
	case errors.As(err, &capture):
		aqm.Respond(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"decision": capture.Decision,
		}, nil)
	case errors.As(err, &validation):
		aqm.RespondError(w, http.StatusUnprocessableEntity, validation.Error())
	case errors.Is(err, jobcard.ErrForbidden):
		aqm.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, jobcard.ErrReadOnly), errors.Is(err, jobcard.ErrInvalidTransition):
		aqm.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobcard.ErrSessionExpired):
		aqm.RespondError(w, http.StatusUnauthorized, "Session expired")
	case errors.Is(err, jobcard.ErrNotFound), errors.Is(err, ErrSessionNotFound):
		aqm.RespondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error("job card operation failed", "error", err)
		aqm.RespondError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", r.Context().Value("request_id"))
}

// actorFrom reads the operator from the identity headers set by the gateway.
// Unknown roles rank below every known role.
func actorFrom(r *http.Request) jobcard.Actor {
	actor := jobcard.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
	}
	if rl := role.ByName(r.Header.Get(HeaderUserRole)); rl != nil {
		actor.Role = *rl
	}
	return actor
}

func ownerOf(actor jobcard.Actor) string {
	if actor.ID == "" {
		return "local"
	}
	return actor.ID
}

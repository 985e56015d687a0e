package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
)

// MaxListLimit bounds the limit query parameter of the object list.
const MaxListLimit = 100

// ObjectsHandler handles tracked object HTTP requests.
type ObjectsHandler struct {
	store objects.Store
	bus   bus.Bus
	log   *logger.Logger
}

// NewObjectsHandler creates a new objects handler. b may be nil.
func NewObjectsHandler(store objects.Store, b bus.Bus, log *logger.Logger) *ObjectsHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &ObjectsHandler{store: store, bus: b, log: log.WithComponent("objects")}
}

// RegisterRoutes registers object routes.
func (h *ObjectsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/objects", h.handleCreate)
	mux.HandleFunc("POST /api/objects/{$}", h.handleCreate)
	mux.HandleFunc("GET /api/objects", h.handleList)
	mux.HandleFunc("GET /api/objects/{$}", h.handleList)
	mux.HandleFunc("GET /api/objects/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/objects/{id}", h.handleDelete)
	mux.HandleFunc("GET /api/objects/suggestions/common", h.handleCommon)
}

// handleCreate handles POST /api/objects
func (h *ObjectsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req objects.NewObject
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(&req); err != nil {
		errors.WriteError(w, r, errors.InvalidRequestError("invalid request body"))
		return
	}

	obj, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.writeStoreError(w, r, err, "Failed to create tracked object")
		return
	}

	h.log.WithContext(r.Context()).WithObject(obj.ID, obj.Name).Info("Object created")
	h.publish(r.Context(), bus.TopicObjectCreated, bus.ObjectChanged{ObjectID: obj.ID, Name: obj.Name})

	writeJSON(w, http.StatusCreated, obj)
}

// handleList handles GET /api/objects?limit=&search=
func (h *ObjectsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxListLimit {
			errors.WriteError(w, r, errors.ValidationError(
				fmt.Sprintf("limit must be between 1 and %d", MaxListLimit)))
			return
		}
		limit = n
	}

	var (
		list []objects.TrackedObject
		err  error
	)
	if search := strings.TrimSpace(r.URL.Query().Get("search")); search != "" {
		list, err = h.store.FindMatching(r.Context(), search)
	} else {
		list, err = h.store.List(r.Context())
	}
	if err != nil {
		h.writeStoreError(w, r, err, "Failed to fetch tracked objects")
		return
	}

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	if list == nil {
		list = []objects.TrackedObject{}
	}

	writeJSON(w, http.StatusOK, list)
}

// handleGet handles GET /api/objects/{id}
func (h *ObjectsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	obj, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "Failed to fetch object")
		return
	}

	writeJSON(w, http.StatusOK, obj)
}

// handleDelete handles DELETE /api/objects/{id}
func (h *ObjectsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err, "Failed to delete object")
		return
	}

	h.log.WithContext(r.Context()).Info("Object deleted", "object_id", id)
	h.publish(r.Context(), bus.TopicObjectDeleted, bus.ObjectChanged{ObjectID: id})

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("Object %d deleted successfully", id),
	})
}

// handleCommon handles GET /api/objects/suggestions/common
func (h *ObjectsHandler) handleCommon(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"common_objects": objects.CommonObjects,
		"tips":           objects.AliasTips,
	})
}

// objectID parses the {id} path value, writing a 400 when it is not an
// integer.
func objectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errors.WriteError(w, r, errors.ValidationError("object id must be an integer"))
		return 0, false
	}
	return id, true
}

// writeStoreError passes client errors through and replaces anything else
// with a generic message carrying an error id.
func (h *ObjectsHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if appErr, ok := errors.As(err); ok && appErr.HTTPStatus() < http.StatusInternalServerError {
		errors.WriteError(w, r, err)
		return
	}

	appErr := errors.InternalError(message, err).WithDetail(errors.DetailErrorID, errors.NewErrorID())
	h.log.WithContext(r.Context()).Error(message, "error", err, "error_id", appErr.ErrorID())
	errors.WriteError(w, r, appErr)
}

func (h *ObjectsHandler) publish(ctx context.Context, topic string, payload any) {
	if h.bus == nil {
		return
	}
	ev := bus.NewEvent(topic, "objects", payload)
	ev.CorrelationID = logger.RequestIDFromContext(ctx)
	if err := h.bus.Publish(ctx, topic, ev); err != nil {
		h.log.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

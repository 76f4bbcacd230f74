package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"infinite-experiment/logbook/internal/auth"
	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/middleware"
	"infinite-experiment/logbook/internal/models/dtos"

	"github.com/go-chi/chi/v5"
)

var errMissingClaims = errors.New("unauthorized: missing claims")

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if limit := h.deps.Config.Sync.RequestBodyLimit; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// PushSync handles POST /sync
//
// @Summary      Push one mutation
// @Description  Reconciles a single create, update or delete against the server store.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Param        Authorization  header  string            true  "Bearer session token"
// @Param        body           body    dtos.SyncRequest  true  "Mutation"
// @Success      200  {object}  dtos.SyncResponse
// @Failure      400  {object}  dtos.APIResponse
// @Failure      401  {object}  dtos.APIResponse
// @Failure      500  {object}  dtos.SyncResponse
// @Router       /sync [post]
func (h *Handlers) PushSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		claims := auth.GetUserClaims(r.Context())
		if claims == nil {
			common.RespondError(w, initTime, errMissingClaims, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req dtos.SyncRequest
		if err := h.decodeBody(w, r, &req); err != nil {
			common.RespondError(w, initTime, err, "Invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := h.deps.Services.Sync.Push(r.Context(), claims.UserID(), req)
		if err != nil {
			logging.WithRequest(middleware.GetRequestID(r.Context()), claims.UserID(), "/sync").
				Errorw("sync push failed", "collection", req.Collection, "type", req.Type, "error", err)
			common.WriteJSON(w, http.StatusInternalServerError, resp)
			return
		}

		common.WriteJSON(w, http.StatusOK, resp)
	}
}

// PushBulkSync handles POST /sync/bulk
//
// @Summary      Push queued mutations in bulk
// @Description  Reconciles a batch of queue items. Each item gets its own outcome; one failing item never blocks the rest.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Param        Authorization  header  string                true  "Bearer session token"
// @Param        body           body    dtos.BulkSyncRequest  true  "Queue items"
// @Success      200  {object}  dtos.BulkSyncResponse
// @Failure      400  {object}  dtos.APIResponse
// @Failure      401  {object}  dtos.APIResponse
// @Failure      413  {object}  dtos.APIResponse
// @Router       /sync/bulk [post]
func (h *Handlers) PushBulkSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		claims := auth.GetUserClaims(r.Context())
		if claims == nil {
			common.RespondError(w, initTime, errMissingClaims, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req dtos.BulkSyncRequest
		if err := h.decodeBody(w, r, &req); err != nil {
			common.RespondError(w, initTime, err, "Invalid request body", http.StatusBadRequest)
			return
		}

		if max := h.deps.Config.Sync.MaxBulkItems; max > 0 && len(req.Items) > max {
			common.RespondError(w, initTime, fmt.Errorf("too many items: %d exceeds limit of %d", len(req.Items), max),
				"Too many items", http.StatusRequestEntityTooLarge)
			return
		}

		resp := h.deps.Services.Sync.PushBulk(r.Context(), claims.UserID(), req)
		common.WriteJSON(w, http.StatusOK, resp)
	}
}

// GetDelta handles GET /sync/{collection}
//
// @Summary      Pull changes
// @Description  Returns records changed and ids deleted since the given watermark.
// @Tags         Sync
// @Produce      json
// @Param        Authorization  header  string  true   "Bearer session token"
// @Param        collection     path    string  true   "flights, aircraft or personnel"
// @Param        since          query   int     false  "Epoch milliseconds, defaults to 0"
// @Success      200  {object}  dtos.DeltaResponse
// @Failure      400  {object}  dtos.APIResponse
// @Failure      401  {object}  dtos.APIResponse
// @Failure      500  {object}  dtos.APIResponse
// @Router       /sync/{collection} [get]
func (h *Handlers) GetDelta() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()

		claims := auth.GetUserClaims(r.Context())
		if claims == nil {
			common.RespondError(w, initTime, errMissingClaims, "Unauthorized", http.StatusUnauthorized)
			return
		}

		collection, err := dtos.ParseCollection(chi.URLParam(r, "collection"))
		if err != nil {
			common.RespondError(w, initTime, err, "Unknown collection", http.StatusBadRequest)
			return
		}

		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			since, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || since < 0 {
				common.RespondError(w, initTime, fmt.Errorf("invalid since parameter %q", raw), "Invalid since", http.StatusBadRequest)
				return
			}
		}

		resp, err := h.deps.Services.Delta.Delta(r.Context(), claims.UserID(), collection, since)
		if err != nil {
			logging.WithRequest(middleware.GetRequestID(r.Context()), claims.UserID(), "/sync/"+string(collection)).
				Errorw("delta fetch failed", "since", since, "error", err)
			common.RespondError(w, initTime, nil, "Failed to fetch changes", http.StatusInternalServerError)
			return
		}

		common.WriteJSON(w, http.StatusOK, resp)
	}
}

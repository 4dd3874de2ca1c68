package apiserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sn-go/internal/middleware"
	"sn-go/internal/models"
	"sn-go/internal/services"
)

// RelationshipHandler handles the follow/block graph mutations and the
// relationship list queries.
type RelationshipHandler struct {
	engine  services.RelationshipService
	queries services.RelationshipQueryService
}

// NewRelationshipHandler creates a new RelationshipHandler.
func NewRelationshipHandler(engine services.RelationshipService, queries services.RelationshipQueryService) *RelationshipHandler {
	return &RelationshipHandler{engine: engine, queries: queries}
}

// StateResponse carries the derived relationship state after a mutation.
type StateResponse struct {
	State models.RelationshipState `json:"state"`
}

// targetIDFromPath parses the {userID} path variable.
func targetIDFromPath(r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	idStr, ok := vars["userID"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// writeEngineError maps the engine's sentinel errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, op string, actorID, targetID uint, err error) {
	switch {
	case errors.Is(err, services.ErrSelfReference),
		errors.Is(err, services.ErrUserNotEligible),
		errors.Is(err, services.ErrNotFollowing),
		errors.Is(err, services.ErrInvalidPage):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrRequestNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrBlocked):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrAlreadyFollowing),
		errors.Is(err, services.ErrDuplicateRequest),
		errors.Is(err, services.ErrConflict):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPartialFailure):
		// 首写已提交，镜像写入失败并已排队修复；客户端应重试
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf("%s failed for actor %d target %d: %v", op, actorID, targetID, err)
		writeJSONError(w, "操作失败", http.StatusInternalServerError)
	}
}

// FollowHandler handles POST /api/v1/users/{userID}/follow
func (h *RelationshipHandler) FollowHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	state, err := h.engine.Follow(r.Context(), actorID, targetID)
	if err != nil {
		writeEngineError(w, "follow", actorID, targetID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, StateResponse{State: state})
}

// UnfollowHandler handles DELETE /api/v1/users/{userID}/follow
func (h *RelationshipHandler) UnfollowHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.Unfollow(r.Context(), actorID, targetID); err != nil {
		writeEngineError(w, "unfollow", actorID, targetID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, StateResponse{State: models.RelationshipNone})
}

// BlockHandler handles POST /api/v1/users/{userID}/block
func (h *RelationshipHandler) BlockHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.Block(r.Context(), actorID, targetID); err != nil {
		writeEngineError(w, "block", actorID, targetID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, StateResponse{State: models.RelationshipBlocked})
}

// UnblockHandler handles DELETE /api/v1/users/{userID}/block
func (h *RelationshipHandler) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.Unblock(r.Context(), actorID, targetID); err != nil {
		writeEngineError(w, "unblock", actorID, targetID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, StateResponse{State: models.RelationshipNone})
}

// AcceptRequestHandler handles POST /api/v1/follow-requests/{userID}/accept
// {userID} is the requester whose pending request the caller accepts.
func (h *RelationshipHandler) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	requesterID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.AcceptRequest(r.Context(), actorID, requesterID); err != nil {
		writeEngineError(w, "accept request", actorID, requesterID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "关注请求已接受"})
}

// RejectRequestHandler handles POST /api/v1/follow-requests/{userID}/reject
func (h *RelationshipHandler) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	requesterID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.RejectRequest(r.Context(), actorID, requesterID); err != nil {
		writeEngineError(w, "reject request", actorID, requesterID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "关注请求已拒绝"})
}

// CancelRequestHandler handles DELETE /api/v1/follow-requests/{userID}
// {userID} is the target of the caller's own pending request.
func (h *RelationshipHandler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := targetIDFromPath(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.CancelRequest(r.Context(), actorID, targetID); err != nil {
		writeEngineError(w, "cancel request", actorID, targetID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "关注请求已取消"})
}

// ListPendingRequestsHandler handles GET /api/v1/follow-requests/pending
func (h *RelationshipHandler) ListPendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	pendingRequests, err := h.queries.ListPendingRequests(r.Context(), userID)
	if err != nil {
		log.Printf("Error fetching pending requests for user %d: %v", userID, err)
		writeJSONError(w, "获取待处理请求失败", http.StatusInternalServerError)
		return
	}
	if pendingRequests == nil {
		pendingRequests = []*models.FollowRequestWithRequester{}
	}
	writeJSONResponse(w, http.StatusOK, pendingRequests)
}

// RelationshipPage is the response envelope for the paginated list queries.
type RelationshipPage struct {
	Items    []models.RelationshipSummary `json:"items"`
	Total    int                          `json:"total"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"pageSize"`
}

const defaultPageSize = 20

func pagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, defaultPageSize
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}
	return page, pageSize
}

func (h *RelationshipHandler) listHandler(w http.ResponseWriter, r *http.Request, list func(r *http.Request, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error)) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	page, pageSize := pagination(r)

	items, total, err := list(r, userID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		if errors.Is(err, services.ErrInvalidPage) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error listing relationships for user %d: %v", userID, err)
		writeJSONError(w, "获取关系列表失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, RelationshipPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// ListFollowersHandler handles GET /api/v1/relationships/followers
func (h *RelationshipHandler) ListFollowersHandler(w http.ResponseWriter, r *http.Request) {
	h.listHandler(w, r, func(r *http.Request, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
		return h.queries.ListFollowers(r.Context(), userID, page, pageSize)
	})
}

// ListFollowingHandler handles GET /api/v1/relationships/following
func (h *RelationshipHandler) ListFollowingHandler(w http.ResponseWriter, r *http.Request) {
	h.listHandler(w, r, func(r *http.Request, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
		return h.queries.ListFollowing(r.Context(), userID, page, pageSize)
	})
}

// ListBlockedHandler handles GET /api/v1/relationships/blocked
func (h *RelationshipHandler) ListBlockedHandler(w http.ResponseWriter, r *http.Request) {
	h.listHandler(w, r, func(r *http.Request, userID uint, page, pageSize int) ([]models.RelationshipSummary, int, error) {
		return h.queries.ListBlocked(r.Context(), userID, page, pageSize)
	})
}

package apiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sn-go/internal/middleware"
	"sn-go/internal/models"
	"sn-go/internal/services"
)

// UserHandler 处理用户资料相关的 HTTP 请求。
type UserHandler struct {
	userService       services.UserService
	suggestionService services.SuggestionService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, suggestionService services.SuggestionService) *UserHandler {
	return &UserHandler{userService: userService, suggestionService: suggestionService}
}

// GetMeHandler handles GET /api/v1/users/me
func (h *UserHandler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	h.writeProfile(w, r, userID)
}

// GetUserProfileHandler handles GET /api/v1/users/{userID}
func (h *UserHandler) GetUserProfileHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["userID"], 10, 32)
	if err != nil || id == 0 {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}
	h.writeProfile(w, r, uint(id))
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID uint) {
	user, err := h.userService.GetUserProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error fetching profile for user %d: %v", userID, err)
		writeJSONError(w, "获取用户资料失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// UpdateProfileRequest 是更新个人资料请求的结构体。未出现的字段保持不变。
type UpdateProfileRequest struct {
	DisplayName   *string            `json:"displayName,omitempty"`
	AvatarURL     *string            `json:"avatarUrl,omitempty"`
	Bio           *string            `json:"bio,omitempty"`
	Locale        *string            `json:"locale,omitempty"`
	Visibility    *models.Visibility `json:"visibility,omitempty"`
	NotifyFollows *bool              `json:"notifyFollows,omitempty"`
}

// UpdateProfileHandler handles PUT /api/v1/users/me
func (h *UserHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	user, err := h.userService.UpdateUserProfile(r.Context(), userID, services.ProfileUpdate{
		DisplayName:   req.DisplayName,
		AvatarURL:     req.AvatarURL,
		Bio:           req.Bio,
		Locale:        req.Locale,
		Visibility:    req.Visibility,
		NotifyFollows: req.NotifyFollows,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidVisibility) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		} else if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
		} else {
			log.Printf("Error updating profile for user %d: %v", userID, err)
			writeJSONError(w, "更新用户资料失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// DeactivateHandler handles DELETE /api/v1/users/me
func (h *UserHandler) DeactivateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	if err := h.userService.DeactivateUser(r.Context(), userID); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error deactivating user %d: %v", userID, err)
		writeJSONError(w, "注销账号失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "账号已注销"})
}

// SearchUsersHandler handles GET /api/v1/users/search?q=...
func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSONError(w, "缺少搜索关键字 (q)", http.StatusBadRequest)
		return
	}

	results, err := h.userService.SearchUsers(r.Context(), query, userID)
	if err != nil {
		log.Printf("Error searching users for %q: %v", query, err)
		writeJSONError(w, "搜索用户失败", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*models.UserSummary{}
	}
	writeJSONResponse(w, http.StatusOK, results)
}

// SuggestUsersHandler handles GET /api/v1/users/suggestions?limit=...
func (h *UserHandler) SuggestUsersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeJSONError(w, "无效的 limit 参数", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.suggestionService.SuggestUsers(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error computing suggestions for user %d: %v", userID, err)
		writeJSONError(w, "获取推荐用户失败", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.UserSummary{}
	}
	writeJSONResponse(w, http.StatusOK, items)
}

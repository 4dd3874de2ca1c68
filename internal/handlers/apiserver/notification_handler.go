package apiserver

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sn-go/internal/middleware"
	"sn-go/internal/models"
	"sn-go/internal/storage"
)

const notificationPageLimit = 50

// NotificationHandler 处理站内通知收件箱的 HTTP 请求。
type NotificationHandler struct {
	notifications storage.NotificationRepository
}

// NewNotificationHandler 创建一个新的 NotificationHandler 实例。
func NewNotificationHandler(notifications storage.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// ListNotificationsHandler handles GET /api/v1/notifications
func (h *NotificationHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	items, err := h.notifications.ListForRecipient(r.Context(), userID, notificationPageLimit)
	if err != nil {
		log.Printf("Error listing notifications for user %d: %v", userID, err)
		writeJSONError(w, "获取通知失败", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	writeJSONResponse(w, http.StatusOK, items)
}

// MarkNotificationReadHandler handles POST /api/v1/notifications/{notificationID}/read
func (h *NotificationHandler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["notificationID"], 10, 32)
	if err != nil || id == 0 {
		writeJSONError(w, "无效的通知ID", http.StatusBadRequest)
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userID, uint(id)); err != nil {
		log.Printf("Error marking notification %d read for user %d: %v", id, userID, err)
		writeJSONError(w, "标记通知已读失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "通知已标记为已读"})
}

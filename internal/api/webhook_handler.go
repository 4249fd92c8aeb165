package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/webhook"
)

// knownEventTypes — события, на которые можно подписать webhook.
var knownEventTypes = map[string]struct{}{
	domain.EventFlowStarted:   {},
	domain.EventFlowCompleted: {},
	domain.EventFlowFailed:    {},
	domain.EventFlowCancelled: {},
	domain.EventStepCompleted: {},
	domain.EventStepFailed:    {},
	domain.EventStepSkipped:   {},
}

// ListWebhooks возвращает webhooks организации.
// GET /api/v1/webhooks
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhookRepo.List(r.Context(), OrgID(r))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WebhookResponse, len(hooks))
	for i, hook := range hooks {
		result[i] = WebhookFromDomain(hook)
	}

	List(w, result, len(result))
}

// CreateWebhook регистрирует webhook.
// POST /api/v1/webhooks
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.URL == "" {
		BadRequest(w, "url is required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		BadRequest(w, "url must be http or https")
		return
	}
	if len(req.EventTypes) == 0 {
		BadRequest(w, "event_types is required")
		return
	}
	for _, et := range req.EventTypes {
		if _, ok := knownEventTypes[et]; !ok {
			BadRequest(w, "unknown event type: "+et)
			return
		}
	}

	hook := &domain.WebhookRegistration{
		ID:         uuid.New(),
		OrgID:      OrgID(r),
		URL:        req.URL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		Enabled:    req.Enabled,
		CreatedAt:  time.Now(),
	}

	if err := h.webhookRepo.Create(r.Context(), hook); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, WebhookFromDomain(*hook))
}

// GetWebhook возвращает webhook по ID.
// GET /api/v1/webhooks/{id}
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid webhook id")
		return
	}

	hook, err := h.webhookRepo.GetByID(r.Context(), id, OrgID(r))
	if HandleRepoError(w, h.logger, err, "webhook not found") {
		return
	}

	Success(w, WebhookFromDomain(*hook))
}

// SetWebhookEnabled включает или выключает webhook.
// PUT /api/v1/webhooks/{id}/enabled
func (h *Handler) SetWebhookEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid webhook id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.webhookRepo.SetEnabled(r.Context(), id, OrgID(r), req.Enabled); err != nil {
		if HandleRepoError(w, h.logger, err, "webhook not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	hook, err := h.webhookRepo.GetByID(r.Context(), id, OrgID(r))
	if HandleRepoError(w, h.logger, err, "webhook not found") {
		return
	}
	Success(w, WebhookFromDomain(*hook))
}

// DeleteWebhook удаляет webhook.
// DELETE /api/v1/webhooks/{id}
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid webhook id")
		return
	}

	if err := h.webhookRepo.Delete(r.Context(), id, OrgID(r)); err != nil {
		if HandleRepoError(w, h.logger, err, "webhook not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// VerifySignatureResponse — результат проверки подписи доставки.
type VerifySignatureResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// VerifyWebhookSignature проверяет подпись входящей доставки
// по секрету webhook'а. Используется получателями для отладки
// собственной проверки подписи. Тело запроса — доставленный
// конверт целиком либо только его поле data; подпись покрывает
// именно data.
// POST /api/v1/webhooks/{id}/verify
func (h *Handler) VerifyWebhookSignature(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid webhook id")
		return
	}

	hook, err := h.webhookRepo.GetByID(r.Context(), id, OrgID(r))
	if HandleRepoError(w, h.logger, err, "webhook not found") {
		return
	}
	if hook.Secret == "" {
		InvalidState(w, "webhook has no secret")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	signature := r.Header.Get(webhook.HeaderSignature)
	timestamp, _ := strconv.ParseInt(r.Header.Get(webhook.HeaderTimestamp), 10, 64)

	if err := webhook.Verify(hook.Secret, webhook.SignedPayload(payload), signature, timestamp); err != nil {
		Success(w, VerifySignatureResponse{Valid: false, Reason: err.Error()})
		return
	}
	Success(w, VerifySignatureResponse{Valid: true})
}

// ListWebhookDeliveries возвращает журнал доставок webhook.
// GET /api/v1/webhooks/{id}/deliveries
func (h *Handler) ListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid webhook id")
		return
	}

	// Проверка принадлежности организации.
	_, err = h.webhookRepo.GetByID(r.Context(), id, OrgID(r))
	if HandleRepoError(w, h.logger, err, "webhook not found") {
		return
	}

	limit := int(mustParseInt(r.URL.Query().Get("limit"), 50))
	logs, err := h.webhookRepo.ListDispatchLogs(r.Context(), id, limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DispatchLogResponse, len(logs))
	for i, l := range logs {
		result[i] = DispatchLogFromDomain(l)
	}

	List(w, result, len(result))
}

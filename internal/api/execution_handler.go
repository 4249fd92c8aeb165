package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Cascade/internal/repo"
)

// ListExecutions возвращает запуски организации.
// GET /api/v1/executions?flow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := repo.ExecutionFilter{
		OrgID:  OrgID(r),
		FlowID: r.URL.Query().Get("flow_id"),
		Status: r.URL.Query().Get("status"),
		Limit:  int(mustParseInt(r.URL.Query().Get("limit"), 50)),
		Offset: int(mustParseInt(r.URL.Query().Get("offset"), 0)),
	}

	logs, err := h.executionRepo.ListExecutions(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(logs))
	for i, l := range logs {
		result[i] = ExecutionFromDomain(l)
	}

	List(w, result, len(result))
}

// ExecuteFlow запускает flow.
// POST /api/v1/flows/{id}/executions
//
// durable=true: запуск ставится в очередь, ответ 202 с executionId.
// Иначе flow выполняется синхронно и ответ содержит полный результат.
func (h *Handler) ExecuteFlow(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("id")

	var req ExecuteFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Durable {
		if h.durable == nil {
			Error(w, http.StatusServiceUnavailable, ErrCodeInvalidState, "durable executions are not available")
			return
		}
		executionID, err := h.durable.Enqueue(r.Context(), flowID, OrgID(r), req.UserID, req.Variables)
		if HandleEngineError(w, h.logger, err) {
			return
		}
		Accepted(w, EnqueuedResponse{ExecutionID: executionID, Status: "queued"})
		return
	}

	result, err := h.engine.Execute(r.Context(), flowID, OrgID(r), req.UserID, req.Variables)
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, result)
}

// GetExecution возвращает запуск по ID.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	log, err := h.executionRepo.GetExecution(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}
	if log == nil || log.OrgID != OrgID(r) {
		NotFound(w, "execution not found")
		return
	}

	Success(w, ExecutionFromDomain(*log))
}

// CancelExecution отменяет durable-запуск.
// POST /api/v1/executions/{id}/cancel
//
// Отмена кооперативная: текущий шаг не прерывается, но его результат
// будет отброшен, а следующие шаги не начнутся.
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	log, err := h.executionRepo.GetExecution(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}
	if log == nil || log.OrgID != OrgID(r) {
		NotFound(w, "execution not found")
		return
	}

	if h.durable == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeInvalidState, "durable executions are not available")
		return
	}
	if err := h.durable.Cancel(r.Context(), executionID); HandleEngineError(w, h.logger, err) {
		return
	}

	log, err = h.executionRepo.GetExecution(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}
	if log == nil {
		NotFound(w, "execution not found")
		return
	}
	Success(w, ExecutionFromDomain(*log))
}

// ListExecutionSteps возвращает записи шагов запуска.
// GET /api/v1/executions/{id}/steps
func (h *Handler) ListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	log, err := h.executionRepo.GetExecution(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}
	if log == nil || log.OrgID != OrgID(r) {
		NotFound(w, "execution not found")
		return
	}

	steps, err := h.executionRepo.ListStepLogs(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StepLogResponse, len(steps))
	for i, s := range steps {
		result[i] = StepLogFromDomain(s)
	}

	List(w, result, len(result))
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}

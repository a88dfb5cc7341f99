package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialsync/pkg/response"
)

// DispatcherStats 派发统计
// @Summary 扇出落地延迟与积压
// @Tags 运维
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/admin/dispatcher [get]
func (h *Handler) DispatcherStats(c *gin.Context) {
	pending, dead, err := h.dispatcher.Pending(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"latency": h.dispatcher.Stats(), "pending": pending, "dead": dead})
}

// Requeue 死信重投
// @Summary 把死信记录放回待派发队列
// @Tags 运维
// @Produce json
// @Param seq path int true "记录序号"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/admin/records/{seq}/requeue [post]
func (h *Handler) Requeue(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil {
		response.BadRequest(c, "seq must be an integer")
		return
	}
	if err := h.dispatcher.Requeue(c.Request.Context(), seq); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Reconcile 立即执行一次计数折叠与对账
// @Summary 折叠计数分片并对账
// @Tags 运维
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/admin/reconcile [post]
func (h *Handler) Reconcile(c *gin.Context) {
	folded, err := h.counters.Fold(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	rep, err := h.counters.Reconcile(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"folded": folded, "report": rep})
}

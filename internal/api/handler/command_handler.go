package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/pkg/response"
)

type commandResult struct {
	Seq            int64  `json:"seq,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	EntityID       string `json:"entity_id,omitempty"`
	Duplicate      bool   `json:"duplicate"`
	Replayed       bool   `json:"replayed"`
}

// Command 执行一条写命令
// @Summary 执行命令（follow、create_post、react 等）
// @Tags 命令
// @Accept json
// @Produce json
// @Param X-Actor-ID header string true "调用者账号"
// @Param type path string true "命令类型，如 follow / create_post"
// @Param request body object true "命令参数"
// @Success 200 {object} response.Response{data=commandResult}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/commands/{type} [post]
func (h *Handler) Command(c *gin.Context) {
	cmd, ok := service.NewCommand(c.Param("type"))
	if !ok {
		response.NotFound(c, "unknown command "+c.Param("type"))
		return
	}
	// 空 body 等同于 {}
	if err := c.ShouldBindJSON(cmd); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}
	cmd.Metadata().ActorID = c.GetHeader(ActorHeader)

	res, err := h.gateway.Apply(c.Request.Context(), cmd)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := commandResult{EntityID: res.EntityID, Duplicate: res.Duplicate, Replayed: res.Replayed}
	if res.Record != nil {
		out.Seq = res.Record.Seq
		out.IdempotencyKey = res.Record.IdempotencyKey
	}
	response.Success(c, out)
}

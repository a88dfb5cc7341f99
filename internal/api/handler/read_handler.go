package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/search"
	"github.com/d60-Lab/socialsync/pkg/apperror"
	"github.com/d60-Lab/socialsync/pkg/response"
)

// viewer 读接口同样要求调用者身份
func viewer(c *gin.Context) (string, bool) {
	id := c.GetHeader(ActorHeader)
	if id == "" {
		response.BadRequest(c, ActorHeader+" header is required")
		return "", false
	}
	return id, true
}

// ReadFeed 读取 feed
// @Summary 读取 home 或自定义 feed（游标分页）
// @Tags Feed
// @Produce json
// @Param X-Actor-ID header string true "调用者账号"
// @Param name path string true "feed 名称，home 为主页"
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=feed.Page}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/feeds/{name} [get]
func (h *Handler) ReadFeed(c *gin.Context) {
	id, ok := viewer(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	page, err := h.assembler.Read(c.Request.Context(), id, c.Param("name"), c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// ListNotifications 通知列表
// @Summary 查询通知（按更新时间倒序）
// @Tags 通知
// @Produce json
// @Param X-Actor-ID header string true "调用者账号"
// @Param unread query bool false "只看未读"
// @Param before query string false "RFC3339 时间，返回更早的通知"
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	id, ok := viewer(c)
	if !ok {
		return
	}
	var before time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			response.BadRequest(c, "before must be an RFC3339 timestamp")
			return
		}
		before = t
	}
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := h.inbox.List(c.Request.Context(), id, unread, before, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// UnreadCount 未读数
// @Summary 未读通知数
// @Tags 通知
// @Produce json
// @Param X-Actor-ID header string true "调用者账号"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/notifications/unread_count [get]
func (h *Handler) UnreadCount(c *gin.Context) {
	id, ok := viewer(c)
	if !ok {
		return
	}
	n, err := h.inbox.UnreadCount(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"unread": n})
}

type markReadRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

// MarkRead 标记已读
// @Summary 标记通知已读（指定 ids 或 all=true）
// @Tags 通知
// @Accept json
// @Produce json
// @Param X-Actor-ID header string true "调用者账号"
// @Param request body markReadRequest true "要标记的通知"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/notifications/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := viewer(c)
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var (
		n   int64
		err error
	)
	if req.All {
		n, err = h.inbox.MarkAllRead(c.Request.Context(), id)
	} else {
		n, err = h.inbox.MarkRead(c.Request.Context(), id, req.IDs)
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// PostCounters 帖子计数
// @Summary 帖子点赞/评论/转发/引用计数（含未折叠分片）
// @Tags 计数
// @Produce json
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response{data=counter.Counts}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id}/counters [get]
func (h *Handler) PostCounters(c *gin.Context) {
	counts, err := h.counters.Read(c.Request.Context(), c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, apperror.NotFound("post %s does not exist", c.Param("id")))
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, counts)
}

// SearchEntry 搜索索引条目
// @Summary 查询某实体的索引状态（tombstoned 表示已删除）
// @Tags 搜索
// @Produce json
// @Param kind path string true "实体类型 account/post/group"
// @Param id path string true "实体ID"
// @Success 200 {object} response.Response{data=model.SearchIndexEntry}
// @Failure 404 {object} response.Response
// @Router /api/v1/search/{kind}/{id} [get]
func (h *Handler) SearchEntry(c *gin.Context) {
	e, err := search.Lookup(c.Request.Context(), h.db, c.Param("kind"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, e)
}

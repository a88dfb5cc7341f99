package handler

import (
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/fanout"
	"github.com/d60-Lab/socialsync/internal/feed"
	"github.com/d60-Lab/socialsync/internal/notification"
	"github.com/d60-Lab/socialsync/internal/service"
)

// ActorHeader 由上游鉴权层写入的调用者身份
const ActorHeader = "X-Actor-ID"

// Handler HTTP 入口，只做绑定与响应，业务全部交给 gateway 与读模型
type Handler struct {
	db         *gorm.DB
	gateway    *service.Gateway
	assembler  *feed.Assembler
	inbox      *notification.Inbox
	counters   *counter.Reconciler
	dispatcher *fanout.Dispatcher
}

func NewHandler(
	db *gorm.DB,
	gateway *service.Gateway,
	assembler *feed.Assembler,
	inbox *notification.Inbox,
	counters *counter.Reconciler,
	dispatcher *fanout.Dispatcher,
) *Handler {
	return &Handler{
		db:         db,
		gateway:    gateway,
		assembler:  assembler,
		inbox:      inbox,
		counters:   counters,
		dispatcher: dispatcher,
	}
}

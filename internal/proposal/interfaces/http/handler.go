package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/proposalengine/internal/proposal/application"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/response"
)

// ProposalUseCase HTTP 层依赖的用例，由 application.ProposalService 实现
type ProposalUseCase interface {
	SubmitSignal(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error)
	SubmitPulse(ctx context.Context, pulse domain.Pulse) (domain.ExecutionResult, error)
	GetProposal(ctx context.Context, id string) (domain.Proposal, error)
	ExecuteProposal(ctx context.Context, id string) (domain.ExecutionResult, error)
}

// ProposalHandler HTTP 处理器
type ProposalHandler struct {
	svc ProposalUseCase
}

// NewProposalHandler 创建 HTTP 处理器实例
func NewProposalHandler(svc ProposalUseCase) *ProposalHandler {
	return &ProposalHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *ProposalHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/signals", h.SubmitSignal)                  // 提交入场信号
		api.POST("/pulses", h.SubmitPulse)                    // 提交持仓调整
		api.GET("/proposals/:id", h.GetProposal)              // 查询提案
		api.POST("/proposals/:id/execute", h.ExecuteProposal) // 重新执行提案
	}
}

// SubmitSignal 提交入场信号
func (h *ProposalHandler) SubmitSignal(c *gin.Context) {
	var cmd application.SignalCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, domain.CodeInvalidInput, err.Error(), nil)
		return
	}
	res, err := h.svc.SubmitSignal(c.Request.Context(), cmd.ToSignal())
	h.respond(c, res, err)
}

// SubmitPulse 提交持仓调整
func (h *ProposalHandler) SubmitPulse(c *gin.Context) {
	var cmd application.PulseCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, domain.CodeInvalidInput, err.Error(), nil)
		return
	}
	res, err := h.svc.SubmitPulse(c.Request.Context(), cmd.ToPulse())
	h.respond(c, res, err)
}

// GetProposal 查询提案
func (h *ProposalHandler) GetProposal(c *gin.Context) {
	p, err := h.svc.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	response.Success(c, p)
}

// ExecuteProposal 按 ID 执行提案，终态提案直接返回原结果
func (h *ProposalHandler) ExecuteProposal(c *gin.Context) {
	res, err := h.svc.ExecuteProposal(c.Request.Context(), c.Param("id"))
	h.respond(c, res, err)
}

func (h *ProposalHandler) respond(c *gin.Context, res domain.ExecutionResult, err error) {
	if err != nil {
		// 已持久化的提案即使失败也返回 ID 与各腿结果
		var data interface{}
		if res.ProposalID != "" {
			data = res
		}
		h.fail(c, err, data)
		return
	}
	response.Success(c, res)
}

func (h *ProposalHandler) fail(c *gin.Context, err error, data interface{}) {
	status := StatusFor(err)
	code := domain.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
		if _, ok := domain.ExchangeErrorCode(err); ok {
			code = "EXCHANGE_ERROR"
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "Request failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		logger.Warn(c.Request.Context(), "Request rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	response.ErrorWithStatus(c, status, code, err.Error(), data)
}

// StatusFor 错误码到 HTTP 状态码的映射
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidRiskInput),
		errors.Is(err, domain.ErrExpiredProposal),
		errors.Is(err, domain.ErrNoOpenPosition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSymbolLocked),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrExchangeLeg),
		errors.Is(err, domain.ErrSetup),
		errors.Is(err, domain.ErrExchangeUnavailable):
		return http.StatusBadGateway
	}
	if _, ok := domain.ExchangeErrorCode(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

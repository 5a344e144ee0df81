package domain

import (
	"errors"
	"fmt"
)

// 错误码
const (
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeInvalidRiskInput    = "INVALID_RISK_INPUT"
	CodeExpiredProposal     = "EXPIRED_PROPOSAL"
	CodeExchangeLeg         = "EXCHANGE_LEG_ERROR"
	CodeSetup               = "SETUP_ERROR"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeNoOpenPosition      = "NO_OPEN_POSITION"
	CodeExchangeUnavailable = "EXCHANGE_UNAVAILABLE"
	CodeProposalNotFound    = "PROPOSAL_NOT_FOUND"
	CodeSymbolLocked        = "SYMBOL_LOCKED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidTransition   = "INVALID_TRANSITION"
)

// Error 领域错误，按 Code 匹配 errors.Is
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 仅比较错误码
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// 哨兵错误，用于 errors.Is(err, domain.ErrSetup)
var (
	ErrConfiguration       = &Error{Code: CodeConfiguration}
	ErrInvalidRiskInput    = &Error{Code: CodeInvalidRiskInput}
	ErrExpiredProposal     = &Error{Code: CodeExpiredProposal}
	ErrExchangeLeg         = &Error{Code: CodeExchangeLeg}
	ErrSetup               = &Error{Code: CodeSetup}
	ErrNotImplemented      = &Error{Code: CodeNotImplemented}
	ErrNoOpenPosition      = &Error{Code: CodeNoOpenPosition}
	ErrExchangeUnavailable = &Error{Code: CodeExchangeUnavailable}
	ErrProposalNotFound    = &Error{Code: CodeProposalNotFound}
	ErrSymbolLocked        = &Error{Code: CodeSymbolLocked}
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrInvalidTransition   = &Error{Code: CodeInvalidTransition}
)

// NewError 创建领域错误
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError 创建携带底层原因的领域错误
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewConfigurationError 交易规则缺少必需的过滤器
func NewConfigurationError(filterType string) *Error {
	return NewError(CodeConfiguration, "missing "+filterType+" filter")
}

// NewTransitionError 仓储拒绝的状态迁移
func NewTransitionError(id string, from, to Status) *Error {
	return NewError(CodeInvalidTransition, fmt.Sprintf("proposal %s cannot move from %q to %q (allowed from %v)", id, from, to, AllowedFrom(to)))
}

// CodeOf 返回错误链中第一个领域错误的错误码，没有则为空
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

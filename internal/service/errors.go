package service

import (
	"errors"
	"fmt"
)

// 业务错误。handler 层据此映射 HTTP 状态码。
var (
	// ErrNotFound 同时覆盖"不存在"和"对调用方不可见"，不泄露资源是否存在。
	ErrNotFound         = errors.New("not found")
	ErrNotOwner         = errors.New("not owner")
	ErrImmutable        = errors.New("shared documents cannot be deleted, hide them instead")
	ErrInvalidTarget    = errors.New("only shared documents can be hidden")
	ErrDuplicateContent = errors.New("a document with identical content already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrSessionBusy      = errors.New("another turn is in progress for this session")
)

// GenerationError 表示生成调用失败，本轮不会持久化助手消息。
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// invalidInput 包装 ErrInvalidInput 并附带具体原因。
func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// retrievalWarning 把检索或摘要失败降级为放进上下文的一行提示。
func retrievalWarning(kind string, err error) string {
	return fmt.Sprintf("(Warning: %s failed: %v)", kind, err)
}

package engine

import (
	"errors"
	"fmt"
)

// 错误类别，使用 errors.Is 判断
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSetup           = errors.New("setup error")
	ErrPlanner         = errors.New("planner error")
	ErrHardware        = errors.New("hardware error")
	ErrCompletionHook  = errors.New("completion hook error")

	ErrNoActivePhase = errors.New("job processor has no active phase")
	ErrAborted       = errors.New("job aborted")
)

// Error 包装一次失败，记录失败类别与责任方（运动头、吸嘴、板卡、规划器等）
type Error struct {
	Kind   error
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Source, e.Err)
}

// Unwrap 同时暴露类别与原因
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

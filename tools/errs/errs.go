package errs

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	error
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) ECode() int   { return e.Code }
func (e *CodeError) EMsg() string { return e.Msg }

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack to the code error.
func (e *CodeError) Wrap() error {
	return errors.WithStack(e)
}

func (e *CodeError) WrapMsg(msg string) error {
	return errors.WithStack(e.WithDetail(msg))
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

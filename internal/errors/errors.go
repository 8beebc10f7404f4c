package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，决定 API 层的日志级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Level 将严重程度映射为 slog 日志级别。
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Attributes 为错误码提供默认行为。Message 是面向用户的文案。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeStorageFailure  Code = "STORAGE_FAILURE"
	CodeQueueFailure    Code = "QUEUE_FAILURE"
	CodeChainFailure    Code = "CHAIN_FAILURE"
	CodeTimeout         Code = "TIMEOUT"
)

// MetaField 是表单校验错误携带的字段名键。
const MetaField = "field"

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:         {Message: "unknown error", Severity: SeverityCritical},
		CodeInvalidArgument: {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:        {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:        {Message: "resource conflict", Severity: SeverityWarning},
		CodeUnavailable:     {Message: "service unavailable", Severity: SeverityWarning, Retryable: true},
		CodeStorageFailure:  {Message: "storage failure", Severity: SeverityCritical, Retryable: true},
		CodeQueueFailure:    {Message: "queue failure", Severity: SeverityCritical, Retryable: true},
		CodeChainFailure:    {Message: "chain request failed", Severity: SeverityWarning, Retryable: true},
		CodeTimeout:         {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},
	}
)

// Register 允许业务模块在 init 阶段注册错误码描述，重复注册以后者为准。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。message 面向用户，cause 只进入日志。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如合约地址或链 ID。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithField 标记校验失败的表单字段。
func WithField(field string) Option {
	return WithMetadata(MetaField, field)
}

// New 创建一个新的错误实例。message 为空时使用注册的默认文案。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 使 errors.Is 按错误码比较，哨兵错误因此可以匹配带原因的同码错误。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// LogValue 让 slog 以结构化字段输出错误。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回面向用户的错误描述，不包含底层原因。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From 尝试从 error 链中取出统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// MessageOf 返回统一错误的用户描述，非统一错误时返回 err.Error()。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.Message()
	}
	return err.Error()
}

// FieldOf 返回校验失败的字段名，没有时为空。
func FieldOf(err error) string {
	if e, ok := From(err); ok && e.metadata != nil {
		return e.metadata[MetaField]
	}
	return ""
}

// Retryable 判断 err 的错误码是否标记为可重试。
func Retryable(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.code).Retryable
	}
	return false
}

// SeverityOf 返回错误码注册的严重程度，非统一错误按 critical 处理。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}

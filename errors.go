package kinetic

import (
	"fmt"
	"time"
)

// ErrorSeverity classifies how serious an ECSError is.
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error codes. Invariant-violation codes are fatal by convention (see
// IsRecoverable); the rest are expected, recoverable failure modes a
// caller is meant to branch on.
const (
	CodeStaleHandle          = "STALE_HANDLE"
	CodeMissingComponent     = "MISSING_COMPONENT"
	CodeUnknownType          = "UNKNOWN_TYPE"
	CodeAlreadyRegistered    = "ALREADY_REGISTERED"
	CodeTypeIDExhausted      = "TYPE_ID_EXHAUSTED"
	CodeTypeIDNotRegistered  = "TYPE_ID_NOT_REGISTERED"
	CodeEntityIndexExhausted = "ENTITY_INDEX_EXHAUSTED"
	CodeOutOfAddressSpace    = "OUT_OF_ADDRESS_SPACE"
	CodeOutOfMemory          = "OUT_OF_MEMORY"
	CodeDoubleRelease        = "DOUBLE_RELEASE"
	CodeCircularDependency   = "CIRCULAR_DEPENDENCY"
	CodeSinkError            = "SINK_ERROR"
	CodeBadMagic             = "BAD_MAGIC"
	CodeUnknownTypeName      = "UNKNOWN_TYPE_NAME"
	CodeMalformedFrame       = "MALFORMED_FRAME"
	CodeInvariantViolation   = "INVARIANT_VIOLATION"
)

// ECSError is the kernel's structured error type. It carries enough
// context (entity, component, system) for a caller to decide whether to
// retry, log, or treat the failure as fatal, without parsing message
// strings.
type ECSError struct {
	Code      string
	Message   string
	Entity    EntityID
	Component ComponentID
	System    string
	Timestamp time.Time
	Details   map[string]any

	hasEntity    bool
	hasComponent bool
}

func newECSError(code, message string) *ECSError {
	return &ECSError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (e *ECSError) Error() string {
	if e.System != "" {
		return fmt.Sprintf("%s: %s (system=%s)", e.Code, e.Message, e.System)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ECSError) String() string {
	return e.Error()
}

// IsRecoverable reports whether the caller is expected to branch on this
// error and continue, as opposed to treating it as a programmer mistake.
func (e *ECSError) IsRecoverable() bool {
	switch e.Code {
	case CodeStaleHandle, CodeMissingComponent, CodeSinkError, CodeUnknownTypeName:
		return true
	default:
		return false
	}
}

// GetSeverity classifies the error for logging purposes.
func (e *ECSError) GetSeverity() ErrorSeverity {
	switch e.Code {
	case CodeStaleHandle, CodeMissingComponent:
		return SeverityInfo
	case CodeSinkError, CodeUnknownTypeName:
		return SeverityWarning
	case CodeCircularDependency, CodeInvariantViolation, CodeDoubleRelease,
		CodeOutOfAddressSpace, CodeOutOfMemory, CodeBadMagic, CodeMalformedFrame:
		return SeverityCritical
	default:
		return SeverityError
	}
}

func (e *ECSError) WithEntity(entity EntityID) *ECSError {
	e.Entity = entity
	e.hasEntity = true
	return e
}

func (e *ECSError) WithComponent(component ComponentID) *ECSError {
	e.Component = component
	e.hasComponent = true
	return e
}

func (e *ECSError) WithSystem(system string) *ECSError {
	e.System = system
	return e
}

func (e *ECSError) WithDetails(key string, value any) *ECSError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Factory functions, one per error category in the design.

func NewStaleHandleError(entity EntityID) *ECSError {
	return newECSError(CodeStaleHandle, "entity handle is stale").WithEntity(entity)
}

func NewMissingComponentError(entity EntityID, component ComponentID) *ECSError {
	return newECSError(CodeMissingComponent, "component not present on entity").
		WithEntity(entity).WithComponent(component)
}

func NewUnknownTypeError(component ComponentID) *ECSError {
	return newECSError(CodeUnknownType, "component type is not registered").WithComponent(component)
}

func NewAlreadyRegisteredError(name string) *ECSError {
	return newECSError(CodeAlreadyRegistered, "component type already registered").WithDetails("type", name)
}

func NewTypeIDExhaustedError() *ECSError {
	return newECSError(CodeTypeIDExhausted, "component type id space exhausted (max 256 types)")
}

func NewTypeIDNotRegisteredError(component ComponentID) *ECSError {
	return newECSError(CodeTypeIDNotRegistered, "command targets an unregistered component type").
		WithComponent(component)
}

func NewEntityIndexExhaustedError() *ECSError {
	return newECSError(CodeEntityIndexExhausted, "entity index exhausted (max entities reached)")
}

func NewCircularDependencyError(systemName string) *ECSError {
	return newECSError(CodeCircularDependency, "system dependency graph contains a cycle").WithSystem(systemName)
}

func NewSinkError(cause error) *ECSError {
	return newECSError(CodeSinkError, cause.Error())
}

func NewBadMagicError(offset int64) *ECSError {
	return newECSError(CodeBadMagic, "recording does not start with the expected magic/version header").
		WithDetails("offset", offset)
}

func NewUnknownTypeNameError(name string, offset int64) *ECSError {
	return newECSError(CodeUnknownTypeName, "object event/component type name has no registered deserializer").
		WithDetails("type_name", name).WithDetails("offset", offset)
}

func NewMalformedFrameError(reason string, offset int64) *ECSError {
	return newECSError(CodeMalformedFrame, reason).WithDetails("offset", offset)
}

func NewInvariantViolation(reason string) *ECSError {
	return newECSError(CodeInvariantViolation, reason)
}

// Predicate helpers.

func IsStaleHandle(err error) bool       { return hasCode(err, CodeStaleHandle) }
func IsMissingComponent(err error) bool  { return hasCode(err, CodeMissingComponent) }
func IsUnknownType(err error) bool       { return hasCode(err, CodeUnknownType) }
func IsCircularDependency(err error) bool { return hasCode(err, CodeCircularDependency) }
func IsSinkError(err error) bool         { return hasCode(err, CodeSinkError) }

func hasCode(err error, code string) bool {
	ee, ok := err.(*ECSError)
	if !ok {
		return false
	}
	return ee.Code == code
}

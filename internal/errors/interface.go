package errors

// ErrorCode identifies a failure independently of its message. Packages
// declare their own codes in errors.go.
type ErrorCode string

// Error is a coded error. WithMessage and WithData return copies.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	Data() any
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	// WrapWithData keeps both the cause and the context of the failure,
	// such as the resource or action involved.
	WrapWithData(code ErrorCode, err error, data any) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

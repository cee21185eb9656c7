package errortypes

// Timeout should be used to flag that a fetch, script execution or an overall
// operation failed to finish before its deadline expired.
//
// The message always carries a recognizable "timed out" marker so callers can
// distinguish timeouts from other internal errors.
type Timeout struct {
	Message string
}

func (err *Timeout) Error() string {
	return err.Message
}

func (err *Timeout) Code() int {
	return TimeoutErrorCode
}

func (err *Timeout) Severity() Severity {
	return SeverityFatal
}

// InvalidArgument should be used when returning errors which are caused by bad
// or inconsistent caller input (unknown ad selection id, config mismatch).
// It should _not_ be used if the error is a server-side issue.
type InvalidArgument struct {
	Message string
}

func (err *InvalidArgument) Error() string {
	return err.Message
}

func (err *InvalidArgument) Code() int {
	return InvalidArgumentErrorCode
}

func (err *InvalidArgument) Severity() Severity {
	return SeverityFatal
}

// InternalError flags unrecoverable server-side failures: malformed script
// output, JSON parse failures, missing trusted signals, store errors.
// None of these are retried by the core; retry policy belongs to the caller.
type InternalError struct {
	Message string
}

func (err *InternalError) Error() string {
	return err.Message
}

func (err *InternalError) Code() int {
	return InternalErrorCode
}

func (err *InternalError) Severity() Severity {
	return SeverityFatal
}

// Unauthorized should be used when the calling ad tech is not enrolled.
type Unauthorized struct {
	Message string
}

func (err *Unauthorized) Error() string {
	return err.Message
}

func (err *Unauthorized) Code() int {
	return UnauthorizedErrorCode
}

func (err *Unauthorized) Severity() Severity {
	return SeverityFatal
}

// CallerNotAllowed should be used when the calling package is not permitted
// to use the API at all.
type CallerNotAllowed struct {
	Message string
}

func (err *CallerNotAllowed) Error() string {
	return err.Message
}

func (err *CallerNotAllowed) Code() int {
	return CallerNotAllowedErrorCode
}

func (err *CallerNotAllowed) Severity() Severity {
	return SeverityFatal
}

// UserConsentRevoked should be used when the user has revoked consent for
// the calling package.
type UserConsentRevoked struct {
	Message string
}

func (err *UserConsentRevoked) Error() string {
	return err.Message
}

func (err *UserConsentRevoked) Code() int {
	return UserConsentRevokedErrorCode
}

func (err *UserConsentRevoked) Severity() Severity {
	return SeverityFatal
}

// RateLimitReached should be used when the per-caller throttle rejects a call.
type RateLimitReached struct {
	Message string
}

func (err *RateLimitReached) Error() string {
	return err.Message
}

func (err *RateLimitReached) Code() int {
	return RateLimitReachedErrorCode
}

func (err *RateLimitReached) Severity() Severity {
	return SeverityFatal
}

// BackgroundCaller should be used when the calling app fails the foreground
// check for an API that requires a foreground caller.
type BackgroundCaller struct {
	Message string
}

func (err *BackgroundCaller) Error() string {
	return err.Message
}

func (err *BackgroundCaller) Code() int {
	return BackgroundCallerErrorCode
}

func (err *BackgroundCaller) Severity() Severity {
	return SeverityFatal
}

// BadServerResponse should be used when a remote endpoint (decision logic,
// trusted signals) responds with data we cannot use.
type BadServerResponse struct {
	Message string
}

func (err *BadServerResponse) Error() string {
	return err.Message
}

func (err *BadServerResponse) Code() int {
	return BadServerResponseErrorCode
}

func (err *BadServerResponse) Severity() Severity {
	return SeverityFatal
}

// FailedToUnmarshal should be used when script output or stored data cannot
// be parsed.
type FailedToUnmarshal struct {
	Message string
}

func (err *FailedToUnmarshal) Error() string {
	return err.Message
}

func (err *FailedToUnmarshal) Code() int {
	return FailedToUnmarshalErrorCode
}

func (err *FailedToUnmarshal) Severity() Severity {
	return SeverityFatal
}

package errortypes

// Severity represents the severity level of an ad selection error.
type Severity int

const (
	// SeverityUnknown represents an unknown severity level.
	SeverityUnknown Severity = iota

	// SeverityFatal represents a fatal error which fails the whole operation.
	SeverityFatal

	// SeverityWarning represents a non-fatal error where an invalid entry
	// (a single beacon registration, one candidate ad) was dropped and the
	// operation continued.
	SeverityWarning
)

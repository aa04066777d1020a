// Package dberr defines the stable error-code taxonomy reported by health
// checks and the fault categories a database driver adapter maps its own
// errors into.
package dberr

import (
	"errors"
	"strings"
)

// Code is a stable, documented identifier for a class of health check failure.
type Code string

// Error codes. The set is closed; every failed check carries exactly one.
const (
	CodeConnection         Code = "CONNECTION_ERROR"
	CodeAuthentication     Code = "AUTHENTICATION_ERROR"
	CodePermission         Code = "PERMISSION_ERROR"
	CodeDatabaseNotFound   Code = "DATABASE_NOT_FOUND"
	CodeTooManyConnections Code = "TOO_MANY_CONNECTIONS"
	CodeQueryTimeout       Code = "QUERY_TIMEOUT"
	CodeDatabase           Code = "DATABASE_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// Codes lists every error code in declaration order.
func Codes() []Code {
	return []Code{
		CodeConnection,
		CodeAuthentication,
		CodePermission,
		CodeDatabaseNotFound,
		CodeTooManyConnections,
		CodeQueryTimeout,
		CodeDatabase,
		CodeUnknown,
	}
}

// String returns the code as it appears in logs and metric labels.
func (c Code) String() string {
	return string(c)
}

// Classify maps a server-reported database error message to a Code.
// Matching is case-insensitive and the first matching rule wins; messages
// that match nothing are CodeDatabase.
func Classify(message string) Code {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "password"):
		return CodeAuthentication
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"):
		return CodePermission
	case strings.Contains(msg, "database") && strings.Contains(msg, "does not exist"):
		return CodeDatabaseNotFound
	case strings.Contains(msg, "too many connections"):
		return CodeTooManyConnections
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "canceling statement"):
		return CodeQueryTimeout
	default:
		return CodeDatabase
	}
}

// Category is the coarse origin of a driver error.
type Category int

const (
	// CategoryOther covers anything that is not a recognized database-layer
	// failure. Its message is never shown to users.
	CategoryOther Category = iota
	// CategoryTransport covers connections that could not be established or
	// were lost.
	CategoryTransport
	// CategoryServer covers errors reported by the database server itself.
	CategoryServer
)

// String returns a lower-case name for the category.
func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryServer:
		return "server"
	default:
		return "other"
	}
}

// Fault tags a driver error with its Category.
type Fault struct {
	Category Category
	Err      error
}

// Error returns the message of the wrapped error.
func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Category.String() + " fault"
	}
	return f.Err.Error()
}

// Unwrap returns the wrapped error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Transport tags err as a connectivity failure. A nil err stays nil.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Category: CategoryTransport, Err: err}
}

// Server tags err as a server-reported database error. A nil err stays nil.
func Server(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Category: CategoryServer, Err: err}
}

// CategoryOf returns the category of the outermost Fault in err's chain, or
// CategoryOther when err carries no Fault.
func CategoryOf(err error) Category {
	var f *Fault
	if errors.As(err, &f) {
		return f.Category
	}
	return CategoryOther
}

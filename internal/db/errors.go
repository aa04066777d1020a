package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"

	"github.com/onnwee/dbup/internal/dberr"
)

// connectionExceptionClass is the SQLSTATE class for connection exceptions.
const connectionExceptionClass pq.ErrorClass = "08"

// fault tags err by origin. Server-reported errors are dberr.Server, except
// SQLSTATE class 08 which is a transport problem. Network, broken
// connection and context errors are dberr.Transport. Anything else is left
// untagged.
func fault(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == connectionExceptionClass {
			return dberr.Transport(err)
		}
		return dberr.Server(err)
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return dberr.Transport(err)
	}
	return err
}

// connectFault tags errors raised while establishing a connection. Failures
// that are not server-reported all count as transport faults here, TLS
// negotiation errors included.
func connectFault(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fault(err)
	}
	return dberr.Transport(err)
}

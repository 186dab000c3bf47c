// Package errutil contains methods to simplify working with error
package errutil

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Close closes the closer and sets the error to err if err is nil.
// If err is already set, a failure to close is logged instead of being
// lost
func Close(c io.Closer, err *error) { //nolint: gocritic // the pointer of pointer is on purpose so we can change the value if it's nil
	CloseWithLogger(c, err, logrus.StandardLogger())
}

// CloseWithLogger is like Close but logs with the given logger
func CloseWithLogger(c io.Closer, err *error, logger logrus.FieldLogger) { //nolint: gocritic // see Close
	e := c.Close()
	switch *err { //nolint: errorlint // we're only checking for "is nil or not"
	case nil:
		*err = e
	default:
		if e != nil {
			logger.WithError(e).Warn("Close() failed")
		}
	}
}

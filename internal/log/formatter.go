// Package log provides the logrus formatter shared by feed_mirror components.
package log

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewFormatter returns a text formatter with full RFC3339 timestamps and
// sorted fields.
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:    noColors,
		ForceQuote:       false,
		FullTimestamp:    true,
		TimestampFormat:  time.RFC3339,
		QuoteEmptyFields: true,
	}
}

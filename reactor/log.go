// File: reactor/log.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"github.com/sirupsen/logrus"
)

// log is the host log sink. Scale and bind events go out at warning
// level, fd lifecycle tracing at debug level.
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the log sink. Call before the first Instance use.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		log = l
	}
}

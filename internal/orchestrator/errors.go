package orchestrator

import "errors"

var errNotReady = errors.New("orchestrator: pid file is held by a different process")

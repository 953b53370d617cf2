package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/resource"
)

// resourceLog traces creation and removal of libraries, trampolines and
// runtime-created pointers. Pin events fire on every callback and are
// skipped.
type resourceLog struct {
	logger *zap.Logger
}

func (l resourceLog) OnResourceEvent(e resource.Event) {
	if e.Type != resource.EventCreated && e.Type != resource.EventDropped {
		return
	}
	if ce := l.logger.Check(zap.DebugLevel, "resource "+e.Type.String()); ce != nil {
		ce.Write(
			zap.Stringer("kind", e.Kind),
			zap.Stringer("handle", e.Handle),
			zap.Uintptr("addr", e.Addr),
		)
	}
}

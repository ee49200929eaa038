package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// sdkLogger routes the Temporal SDK's own log lines (dial attempts,
// namespace lookups, connection warnings) into the worker's zap logger.
type sdkLogger struct {
	s *zap.SugaredLogger
}

var (
	_ log.Logger     = (*sdkLogger)(nil)
	_ log.WithLogger = (*sdkLogger)(nil)
)

// NewSDKLogger returns a log.Logger writing under the "temporal" name
func NewSDKLogger(logger *zap.Logger) log.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sdkLogger{s: logger.Named("temporal").Sugar()}
}

func (l *sdkLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, scrub(keyvals)...) }
func (l *sdkLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, scrub(keyvals)...) }
func (l *sdkLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, scrub(keyvals)...) }
func (l *sdkLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, scrub(keyvals)...) }

func (l *sdkLogger) With(keyvals ...interface{}) log.Logger {
	return &sdkLogger{s: l.s.With(scrub(keyvals)...)}
}

// scrub keeps string-keyed pairs and replaces values the JSON encoder
// cannot represent. A dangling key is dropped.
func scrub(keyvals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		out = append(out, key, loggable(keyvals[i+1]))
	}
	return out
}

func loggable(v interface{}) interface{} {
	if v == nil {
		return "<nil>"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("<%T>", v)
	}
	return v
}

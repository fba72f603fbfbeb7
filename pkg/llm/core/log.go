package core

import "go.uber.org/zap"

// Logger 返回可用的日志记录器，nil 时返回 no-op
func Logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// 日志消息
const (
	LogThinkingDropped     = "thinking block dropped"
	LogToolChoiceDegraded  = "tool choice degraded"
	LogToolResultSkipped   = "tool result in agent group skipped"
	LogLiveInputIgnored    = "unsupported live input ignored"
	LogUnknownLiveEvent    = "unknown live event"
	LogMediaConversionFail = "media conversion failed"
	LogMediaUnsupported    = "media not supported by provider"
	LogRemoteMediaSkipped  = "remote media not fetched"
)

// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// ChatTimeout bounds a single reply call to the language model, retries included.
	// ChatTimeout 是单次回复调用（含重试）的超时时间。
	ChatTimeout = 45 * time.Second

	// ExtractionTimeout bounds one background memory extraction pass.
	// ExtractionTimeout 是一次后台记忆提取的超时时间。
	ExtractionTimeout = 60 * time.Second

	// LockWaitTimeout is how long a request waits for another request of the same user.
	// LockWaitTimeout 是同一用户请求之间的最长等待时间。
	LockWaitTimeout = 10 * time.Second

	// ShutdownTimeout bounds the HTTP drain and in-flight extraction passes on shutdown.
	// ShutdownTimeout 是关闭时等待 HTTP 请求和提取任务的超时时间。
	ShutdownTimeout = 30 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)

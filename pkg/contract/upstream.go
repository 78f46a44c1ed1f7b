package contract

// UpstreamError 由远端后端返回的 HTTP/SDK 失败：状态码决定是否重试，消息片段进日志。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

package contract

// EventKind: 进度事件类型。
type EventKind int

const (
	// EventProgress: 第 Current/Total 块已按序应用。
	EventProgress EventKind = iota
	// EventPartial: Document 为当前完整序列化结果。
	EventPartial
)

// Event: 流水线向展示层发出的事件；由任意消费者独立排空。
type Event struct {
	Kind     EventKind
	Current  int
	Total    int
	Message  string
	Document string
}

// CancelFunc: 调用方提供的取消谓词；仅轮询，不推送。
type CancelFunc func() bool

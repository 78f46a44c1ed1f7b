package contract

import (
	"context"
	"io"
)

// ArtifactID 展开产物的标识，沿用输入的 FileID，由 Writer 决定最终落盘位置与后缀。
type ArtifactID = FileID

// Writer 持久化一份展开后的文档。
// 同一 ArtifactID 在一次运行内只写一次；写入失败不留下半成品（原子模式）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

package contract

import (
	"context"
	"io"
)

// Reader 枚举待展开的 XML 输入。roots 可为文件、目录或 "-"（标准输入）。
// 每个输入以 FileID 与字节流回调一次；yield 返回错误时停止枚举并原样返回。
// 实现串行回调，调用方负责关闭 ReadCloser。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}

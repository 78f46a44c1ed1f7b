package filesystem

import (
	"os"
	"path/filepath"
	"runtime"
)

// commitTemp 以临时文件替换 dest，随后尽力同步父目录元数据。
// Windows 上 os.Rename 即 MoveFileEx(REPLACE_EXISTING)；目录无法 fsync，跳过。
func commitTemp(tmpPath, dest string) error {
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(filepath.Dir(dest))
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}

package examples

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"dipexpand/internal/diag"
	"dipexpand/pkg/contract"
	wfs "dipexpand/plugins/writer/filesystem"
)

const (
	// LearnedFileName 与项目示例文件同目录的学习文件名。
	LearnedFileName = "learned_examples.json"
	// ConfigDirName 个人配置目录名。
	ConfigDirName = "expand-diplomatic"
	// maxCacheEntries 缓存条目上限；超出前整体清空（非 LRU）。
	maxCacheEntries = 8
)

type layerKind uint8

const (
	layerProject layerKind = iota
	layerLearned
)

type cacheKey struct {
	kind layerKind
	path string
}

type cacheEntry struct {
	mtime time.Time
	pairs []contract.ExamplePair
}

// Store 持有示例文件缓存；每进程构造一次并按引用传递。
// 约束：
// 1) 缓存以 (解析后路径, mtime) 为键，mtime 变化仅失效该路径；
// 2) 项目文件 JSON 损坏为硬错误；学习文件损坏视为无示例；
// 3) 并发安全；同一路径的并发加载经 singleflight 合并。
type Store struct {
	mu       sync.Mutex
	cache    map[cacheKey]cacheEntry
	group    singleflight.Group
	personal string
	logger   *diag.Logger
}

// Option 配置 Store。
type Option func(*Store)

// WithPersonalPath 指定个人学习文件路径；空串禁用个人层。
func WithPersonalPath(p string) Option { return func(s *Store) { s.personal = p } }

// WithLogger 指定日志器。
func WithLogger(l *diag.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore 构造 Store；个人层默认位于用户配置目录。
func NewStore(opts ...Option) *Store {
	s := &Store{cache: make(map[cacheKey]cacheEntry)}
	if p, err := PersonalLearnedPath(); err == nil {
		s.personal = p
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = diag.Nop()
	}
	return s
}

// LearnedPath 返回项目示例文件旁的学习文件路径。
func LearnedPath(examplesPath string) string {
	return filepath.Join(filepath.Dir(examplesPath), LearnedFileName)
}

// PersonalLearnedPath 返回个人学习文件路径（XDG_CONFIG_HOME / Application Support / APPDATA）。
func PersonalLearnedPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigDirName, LearnedFileName), nil
}

// PersonalPath 当前个人层路径（可能为空）。
func (s *Store) PersonalPath() string { return s.personal }

// Load 分层加载：项目 → 项目学习 → 个人学习；按 AppearanceKey 首次出现者胜出。
// 三层并发读取，合并顺序固定。返回对仅含 diplomatic/full，已去除首尾空白。
func (s *Store) Load(path string, includeLearned, includePersonal bool) ([]contract.ExamplePair, error) {
	var layers [3][]contract.ExamplePair
	var g errgroup.Group
	if path != "" {
		g.Go(func() error {
			p, err := s.LoadProject(path)
			layers[0] = p
			return err
		})
	}
	if includeLearned && path != "" {
		g.Go(func() error {
			layers[1] = s.LoadLearned(LearnedPath(path))
			return nil
		})
	}
	if includePersonal && s.personal != "" {
		g.Go(func() error {
			layers[2] = s.LoadLearned(s.personal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []contract.ExamplePair
	for _, layer := range layers {
		for _, e := range layer {
			d := strings.TrimSpace(e.Diplomatic)
			if d == "" {
				continue
			}
			k := AppearanceKey(d)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, contract.ExamplePair{Diplomatic: d, Full: strings.TrimSpace(e.Full)})
		}
	}
	return out, nil
}

// LoadProject 读取项目示例文件（权威层）。文件不存在返回空；JSON 损坏返回 ErrExamplesInvalid。
func (s *Store) LoadProject(path string) ([]contract.ExamplePair, error) {
	return s.read(layerProject, path)
}

// LoadLearned 读取学习文件（机器维护层），优先返回 pro 条目；任何错误都视为无示例。
func (s *Store) LoadLearned(path string) []contract.ExamplePair {
	pairs, err := s.read(layerLearned, path)
	if err != nil {
		s.logger.Warn("examples", "learned file ignored", map[string]string{"path": path, "err": err.Error()})
		return nil
	}
	return pairs
}

func (s *Store) read(kind layerKind, path string) ([]contract.ExamplePair, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	key := cacheKey{kind: kind, path: abs}
	if pairs, ok := s.cached(key, st.ModTime()); ok {
		return pairs, nil
	}
	sfKey := fmt.Sprintf("%d|%s|%d", kind, abs, st.ModTime().UnixNano())
	v, err, _ := s.group.Do(sfKey, func() (any, error) {
		b, err := os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
		pairs, err := decodePairs(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", contract.ErrExamplesInvalid, path, err)
		}
		if kind == layerLearned {
			sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Pro && !pairs[j].Pro })
		}
		s.store(key, st.ModTime(), pairs)
		return pairs, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePairs(v.([]contract.ExamplePair)), nil
}

func (s *Store) cached(key cacheKey, mtime time.Time) ([]contract.ExamplePair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok || !e.mtime.Equal(mtime) {
		return nil, false
	}
	return clonePairs(e.pairs), true
}

func (s *Store) store(key cacheKey, mtime time.Time, pairs []contract.ExamplePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cache[key]; !exists && len(s.cache) >= maxCacheEntries {
		clear(s.cache)
	}
	s.cache[key] = cacheEntry{mtime: mtime, pairs: clonePairs(pairs)}
}

// Invalidate 丢弃某路径的全部缓存条目。
func (s *Store) Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.cache, cacheKey{kind: layerProject, path: abs})
	delete(s.cache, cacheKey{kind: layerLearned, path: abs})
	s.mu.Unlock()
}

// Save 写入项目示例（仅 diplomatic/full 两字段，去除 pro 等内部标记）并失效缓存。
func (s *Store) Save(ctx context.Context, path string, pairs []contract.ExamplePair) error {
	out := make([]contract.ExamplePair, len(pairs))
	for i, p := range pairs {
		out[i] = contract.ExamplePair{Diplomatic: p.Diplomatic, Full: p.Full}
	}
	return s.write(ctx, path, out)
}

// SaveLearned 写入学习文件（保留 pro 标记）并失效缓存。
func (s *Store) SaveLearned(ctx context.Context, path string, pairs []contract.ExamplePair) error {
	return s.write(ctx, path, pairs)
}

func (s *Store) write(ctx context.Context, path string, pairs []contract.ExamplePair) error {
	if pairs == nil {
		pairs = []contract.ExamplePair{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pairs); err != nil {
		return err
	}
	defer s.Invalidate(path)
	return wfs.WriteFileAtomic(ctx, path, buf.Bytes())
}

// decodePairs 宽松解析：非数组视为空；缺少任一字段或非对象的元素跳过；非字符串值按文本化处理。
func decodePairs(b []byte) ([]contract.ExamplePair, error) {
	var data any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	items, ok := data.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]contract.ExamplePair, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		d, okD := m["diplomatic"]
		f, okF := m["full"]
		if !okD || !okF || d == nil || f == nil {
			continue
		}
		out = append(out, contract.ExamplePair{Diplomatic: text(d), Full: text(f), Pro: truthy(m["pro"])})
	}
	return out, nil
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return false
}

func clonePairs(in []contract.ExamplePair) []contract.ExamplePair {
	if in == nil {
		return nil
	}
	out := make([]contract.ExamplePair, len(in))
	copy(out, in)
	return out
}

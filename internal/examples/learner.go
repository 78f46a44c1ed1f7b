package examples

import (
	"context"
	"strings"

	"dipexpand/internal/diag"
	"dipexpand/pkg/contract"
)

// IsProModel 模型名（不区分大小写）含 "pro" 视为高权重来源。
func IsProModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "pro")
}

// Learner 把已接受的转换结果沉淀为学习示例；全部失败只记录告警，不影响调用方。
type Learner struct {
	Store      *Store
	Parser     contract.Parser
	Tags       contract.TagSet
	MaxLearned int
	WordLevel  bool
	Logger     *diag.Logger
}

// Learn 抽取变化对 → 可选词级拆分 → 质量过滤 → 合并写回学习文件，返回新增条目数。
// examplesPath 为空时写入个人学习文件；权威键取自项目示例文件。
func (l *Learner) Learn(ctx context.Context, examplesPath, inputXML, outputXML, model string) int {
	if l == nil || l.Store == nil {
		return 0
	}
	lg := l.Logger
	if lg == nil {
		lg = diag.Nop()
	}
	tags := l.Tags
	if len(tags) == 0 {
		tags = contract.NewTagSet(contract.DefaultTags...)
	}
	timer := lg.StartWithKV("learn", "learn", "", "", map[string]string{"model": model})

	pairs := ExtractChangedPairs(l.Parser, inputXML, outputXML, tags)
	if l.WordLevel {
		pairs = WordLevel(pairs)
	}
	pairs = Filter(pairs)
	if len(pairs) == 0 {
		timer.Finish("nothing to learn", 0)
		return 0
	}

	target := l.Store.PersonalPath()
	authoritative := map[string]struct{}{}
	if examplesPath != "" {
		target = LearnedPath(examplesPath)
		project, err := l.Store.LoadProject(examplesPath)
		if err != nil {
			lg.Warn("learn", "project examples unreadable", map[string]string{"path": examplesPath, "err": err.Error()})
		}
		authoritative = KeySet(project)
	}
	if target == "" {
		timer.Finish("no learned target", 0)
		return 0
	}
	if err := ctx.Err(); err != nil {
		return 0
	}

	pool := NewPool(l.MaxLearned, l.Store.LoadLearned(target))
	added, changed := pool.Merge(pairs, IsProModel(model), authoritative)
	if changed == 0 {
		timer.Finish("no changes", 0)
		return 0
	}
	if err := l.Store.SaveLearned(ctx, target, pool.Pairs()); err != nil {
		lg.Warn("learn", "save learned failed", map[string]string{"path": target, "err": err.Error()})
		return 0
	}
	timer.Finish("learned", added)
	return added
}

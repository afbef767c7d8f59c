package medbase

import (
	"fmt"
	"unicode/utf8"
)

const (
	// InternalKeyPrefix 匿名化内部标识前缀
	InternalKeyPrefix = "PID"
	// InternalKeyDigits 内部标识序号的零填充位数
	InternalKeyDigits = 6
)

// Rule 主键匿名化注册表：原始主键 -> 内部标识（PID + 零填充序号）。
// 映射单调：序号按首见顺序分配，永不复用；已分配的内部标识永不变更。
type Rule struct {
	keys     map[string]string
	internal map[string]struct{}
	order    []string
}

// NewRule 创建匿名化注册表
func NewRule() *Rule {
	return &Rule{
		keys:     map[string]string{},
		internal: map[string]struct{}{},
	}
}

// Register 注册原始主键并返回内部标识。已注册的主键幂等返回既有标识。
func (r *Rule) Register(primaryKey string) (string, error) {
	if internal, ok := r.keys[primaryKey]; ok {
		return internal, nil
	}

	internal := fmt.Sprintf("%s%0*d", InternalKeyPrefix, InternalKeyDigits, len(r.keys)+1)

	// 正常分配顺序下不可能触发
	if _, exists := r.internal[internal]; exists {
		return "", fmt.Errorf("internal key `%s` already exists", internal)
	}

	r.keys[primaryKey] = internal
	r.internal[internal] = struct{}{}
	r.order = append(r.order, primaryKey)
	return internal, nil
}

// InternalKey 查询已注册主键的内部标识
func (r *Rule) InternalKey(primaryKey string) (string, bool) {
	internal, ok := r.keys[primaryKey]
	return internal, ok
}

// IsPrimaryKey 主键候选判定。
// TODO: 当前实现（长度 >= 3）是占位规则，待真实证件号格式确定后调整
func (r *Rule) IsPrimaryKey(key string) bool {
	return utf8.RuneCountInString(key) >= 3
}

// Count 已注册主键数
func (r *Rule) Count() int { return len(r.keys) }

// Restore 从持久化的 (原始主键, 内部标识) 对重建映射，保持原有分配
func (r *Rule) Restore(pairs [][2]string) {
	for _, pair := range pairs {
		raw, internal := pair[0], pair[1]
		if _, ok := r.keys[raw]; ok {
			continue
		}
		r.keys[raw] = internal
		r.internal[internal] = struct{}{}
		r.order = append(r.order, raw)
	}
}

// Pairs 按注册顺序返回 (原始主键, 内部标识) 对，用于持久化
func (r *Rule) Pairs() [][2]string {
	pairs := make([][2]string, 0, len(r.order))
	for _, raw := range r.order {
		pairs = append(pairs, [2]string{raw, r.keys[raw]})
	}
	return pairs
}

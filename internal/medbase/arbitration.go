package medbase

// Arbitrator 合并冲突仲裁扩展点。
// 自动合并检测到不可调和的字段冲突时调用；返回 true 表示冲突已解决
// （保留 existing 中的值），返回 false 则合并以 AmbiguousFieldError 失败。
// 可替换为"优先最新批次"、"优先非空长串"等策略而无需改动合并调用点。
type Arbitrator interface {
	ResolveConflict(existing, incoming map[string]any, key string, patientKey string) bool
}

// DenyArbitrator 默认策略：一律不裁决，保持致命错误
type DenyArbitrator struct{}

// ResolveConflict 恒为未决
func (DenyArbitrator) ResolveConflict(existing, incoming map[string]any, key string, patientKey string) bool {
	return false
}

package medbase

import "fmt"

// ValidationError 单元格值无法按属性声明的类型解析
type ValidationError struct {
	Attribute string
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("failed to parse value `%s` for attribute `%s`: %s",
		e.Value, e.Attribute, e.Reason)
}

// PreconditionError 操作前置条件不满足（空批次、主键列缺失、不支持的选择器等），
// 在任何状态变更之前抛出
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// SchemaConflictError 结构变更冲突（别名归属冲突、分组不一致、重复注册），
// 抛出时结构保持不变
type SchemaConflictError struct {
	Attribute string
	Alias     string
	Reason    string
}

func (e *SchemaConflictError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("schema conflict on attribute `%s` (alias `%s`): %s",
			e.Attribute, e.Alias, e.Reason)
	}
	return fmt.Sprintf("schema conflict on attribute `%s`: %s", e.Attribute, e.Reason)
}

// AmbiguousFieldError 合并时同一字段出现不可调和的两个非空值
type AmbiguousFieldError struct {
	PatientKey string
	Attribute  string
	Have       any
	Got        any
}

func (e *AmbiguousFieldError) Error() string {
	return fmt.Sprintf("ambiguous field `%s` for patient (ID=%s): %v != %v",
		e.Attribute, e.PatientKey, e.Have, e.Got)
}

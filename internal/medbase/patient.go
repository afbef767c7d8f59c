package medbase

import (
	"math"
	"time"
)

// Patient 同一匿名身份下跨批次的全部记录。
// 合并视图是派生的，每次从记录列表重新计算。
type Patient struct {
	PrimaryKey string
	Records    []*Record

	structure *Structure
	rule      *Rule
	arbiter   Arbitrator
}

// NumRecords 记录数
func (p *Patient) NumRecords() int { return len(p.Records) }

// InternalKey 匿名化内部标识
func (p *Patient) InternalKey() string {
	internal, _ := p.rule.InternalKey(p.PrimaryKey)
	return internal
}

// RootDict 折叠全部记录的 root 抽取：每个字段首个非空值生效；
// 后续记录给出不同非空值且仲裁未决时返回 AmbiguousFieldError。
func (p *Patient) RootDict() (map[string]any, error) {
	keys := p.structure.EmptyRowTemplate([]string{GroupRoot})
	od := make(map[string]any, len(keys))
	for _, k := range keys {
		od[k] = nil
	}
	od[AttrPrimaryKey] = p.PrimaryKey

	for _, record := range p.Records {
		groups, _, err := record.GroupDict(p.structure)
		if err != nil {
			return nil, err
		}
		rootDict, ok := groups[GroupRoot]
		if !ok {
			continue
		}
		for _, key := range keys {
			v, present := rootDict[key]
			if !present || v == nil {
				continue
			}
			if od[key] == nil {
				od[key] = v
				continue
			}
			if valuesEqual(od[key], v) {
				continue
			}
			if p.arbiter != nil && p.arbiter.ResolveConflict(od, rootDict, key, p.PrimaryKey) {
				continue
			}
			return nil, &AmbiguousFieldError{
				PatientKey: p.PrimaryKey, Attribute: key, Have: od[key], Got: v,
			}
		}
	}
	return od, nil
}

// RecordsByGroup 收集请求分组下的全部记录抽取，并在每个分组内部
// 对日期严格相等的记录做冲突检查合并。
// 返回 分组名 -> 记录列表（组内保持首见顺序）及分组出现顺序。
func (p *Patient) RecordsByGroup(groups []string) (map[string][]map[string]any, []string, error) {
	// (1) 收集各记录的分组抽取
	od := map[string][]map[string]any{}
	var order []string
	for _, record := range p.Records {
		recGroups, _, err := record.GroupDict(p.structure)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range groups {
			if !p.structure.IsLeafGroup(name) {
				continue
			}
			rec, ok := recGroups[name]
			if !ok {
				continue
			}
			if _, ok := od[name]; !ok {
				order = append(order, name)
			}
			od[name] = append(od[name], rec)
		}
	}

	// (2) 组内合并日期相同的记录
	for _, name := range order {
		var merged []map[string]any
		for _, this := range od[name] {
			target := p.findSameDate(merged, this)
			if target == nil {
				merged = append(merged, this)
				continue
			}
			if err := p.mergeInto(target, this); err != nil {
				return nil, nil, err
			}
		}
		od[name] = merged
	}
	return od, order, nil
}

// findSameDate 在已合并列表中寻找日期非空且严格相等的记录
func (p *Patient) findSameDate(merged []map[string]any, rec map[string]any) map[string]any {
	date, ok := rec[AttrDate]
	if !ok || date == nil {
		return nil
	}
	for _, that := range merged {
		if thatDate, ok := that[AttrDate]; ok && thatDate != nil && valuesEqual(date, thatDate) {
			return that
		}
	}
	return nil
}

// mergeInto 按先填空后查冲突的规则合并字段；
// 配置了容差的数值字段在差值小于容差时保留既有值
func (p *Patient) mergeInto(target, rec map[string]any) error {
	for key, v := range rec {
		if target[key] == nil {
			target[key] = v
			continue
		}
		if v == nil || valuesEqual(target[key], v) {
			continue
		}
		if delta := p.structure.ToleranceFor(key); delta > 0 {
			if a, aok := asFloat(target[key]); aok {
				if b, bok := asFloat(v); bok && math.Abs(a-b) < delta {
					continue
				}
			}
		}
		if p.arbiter != nil && p.arbiter.ResolveConflict(target, rec, key, p.PrimaryKey) {
			continue
		}
		return &AmbiguousFieldError{
			PatientKey: p.PrimaryKey, Attribute: key, Have: target[key], Got: v,
		}
	}
	return nil
}

// valuesEqual 类型化值相等判定（日期按时间点比较）
func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// asFloat 数值类型化值转 float64
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

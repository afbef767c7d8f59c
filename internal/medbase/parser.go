package medbase

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout 导出时日期值的渲染格式
const DateLayout = "2006-01-02"

// parseFunc 将原始单元格字符串解析为类型化值；返回 (nil, nil) 表示无值
type parseFunc func(raw string) (any, error)

// validDateLayouts 可解析的日期格式，按顺序尝试
var validDateLayouts = []string{
	"2006.1.2",   // 2021.6.1
	"20060102",   // 20230301
	"1/2/2006",   // 5/26/2022
	"2006-01-02", // 2000-01-01
	"2006/01/02", // 2000/01/01
}

// voidDateLayouts 可识别但不解析的格式（只有年月），视为无值
var voidDateLayouts = []string{
	"2006.1", // 2022.9
}

// badDateLiterals 已知的坏日期字面量（未转换的 Excel 序列号），视为无值
var badDateLiterals = map[string]struct{}{
	"44740": {},
	"44704": {},
}

// Parser 单元格值解析器。按属性名优先、类型其次的查找表分发，
// 查找表在构造时生成。
type Parser struct {
	noneSet map[string]struct{}
	byName  map[string]parseFunc
	byType  map[string]parseFunc
}

// NewParser 创建解析器
func NewParser() *Parser {
	p := &Parser{noneSet: map[string]struct{}{}}
	for _, s := range []string{"#N/A", "null", "nan", "/", ""} {
		p.noneSet[s] = struct{}{}
	}
	p.byName = map[string]parseFunc{
		AttrPrimaryKey: parseID,
		AttrGender:     parseGenderCN,
		AttrDate:       parseDate,
	}
	p.byType = map[string]parseFunc{
		TypeDate:  parseDate,
		TypeInt:   parseInt,
		TypeFloat: parseFloat,
	}
	return p
}

// Parse 按属性解析原始值。空值哨兵返回 (nil, nil)；
// 解析失败返回 *ValidationError；未匹配的类型按文本原样通过。
func (p *Parser) Parse(raw string, attr *Attribute) (any, error) {
	if _, none := p.noneSet[raw]; none {
		return nil, nil
	}

	fn, ok := p.byName[attr.Name]
	if !ok {
		fn, ok = p.byType[attr.Type]
	}
	if !ok {
		return raw, nil
	}

	v, err := fn(raw)
	if err != nil {
		return nil, &ValidationError{Attribute: attr.Name, Value: raw, Reason: err.Error()}
	}
	return v, nil
}

func parseID(raw string) (any, error) {
	return raw, nil
}

// parseGenderCN 性别归一化，返回中文标签
func parseGenderCN(raw string) (any, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case v == "female":
		return "女", nil
	case v == "male":
		return "男", nil
	case strings.Contains(v, "女"):
		return "女", nil
	case strings.Contains(v, "男"):
		return "男", nil
	}
	return nil, fmt.Errorf("failed to parse gender from value: %s", raw)
}

// parseDate 三级日期策略：可解析 / 可识别但无值 / 错误
func parseDate(raw string) (any, error) {
	// Case I: 合法格式
	for _, layout := range validDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	// Case II: 可识别但不可用的格式
	for _, layout := range voidDateLayouts {
		if _, err := time.Parse(layout, raw); err == nil {
			return nil, nil
		}
	}

	// Case III: 已知坏值
	if _, ok := badDateLiterals[raw]; ok {
		return nil, nil
	}

	return nil, fmt.Errorf("date format not recognized: %s", raw)
}

// parseInt 宽松整数解析（先按浮点解析再截断）
func parseInt(raw string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, err
	}
	return int(f), nil
}

func parseFloat(raw string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

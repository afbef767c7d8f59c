package medbase

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"medbase/internal/tabular"
)

// 内置分组
const (
	GroupRoot    = "root"
	GroupShared  = "shared"
	GroupPending = "pending"
	GroupDropped = "dropped"
)

// 属性类型
const (
	TypeStr   = "str"
	TypeInt   = "int"
	TypeFloat = "float"
	TypeDate  = "date"
)

// 内置属性名
const (
	AttrPrimaryKey = "primary_key"
	AttrName       = "name"
	AttrGender     = "gender"
	AttrAge        = "age"
	AttrDate       = "date"
)

// 结构描述文档的列
var structureColumns = []string{"column", "canonical_name", "dtype", "group", "remark"}

// Attribute 一个规范属性：规范名、分组、声明类型、原始列别名、备注
type Attribute struct {
	Name   string   `json:"name"`
	Group  string   `json:"group"`
	Type   string   `json:"dtype"`
	Alias  []string `json:"alias,omitempty"`
	Remark string   `json:"remark,omitempty"`
}

// NewAttribute 创建属性（默认 pending 分组、str 类型）
func NewAttribute(name, group, dtype string, alias ...string) *Attribute {
	if group == "" {
		group = GroupPending
	}
	if dtype == "" {
		dtype = TypeStr
	}
	return &Attribute{Name: name, Group: group, Type: dtype, Alias: alias}
}

// Extract 按规范名及别名从行字典中取值并解析；列不存在时返回 (nil, nil)
func (a *Attribute) Extract(row map[string]string, p *Parser) (any, error) {
	if raw, ok := row[a.Name]; ok {
		return p.Parse(raw, a)
	}
	for _, alias := range a.Alias {
		if raw, ok := row[alias]; ok {
			return p.Parse(raw, a)
		}
	}
	return nil, nil
}

// hasAlias 判断别名是否已登记
func (a *Attribute) hasAlias(alias string) bool {
	for _, al := range a.Alias {
		if al == alias {
			return true
		}
	}
	return false
}

// Group 派生视图：同一分组下的全部属性
type Group struct {
	Name       string
	Attributes []*Attribute

	structure *Structure
}

// Len 分组属性数
func (g *Group) Len() int { return len(g.Attributes) }

// Extract 从行字典中抽取本分组的记录。
// 非 root 分组额外带上主键与 shared 属性，使每条记录自描述；
// 本分组自身属性全为空时返回 nil（整条舍弃）。
func (g *Group) Extract(row map[string]string) (map[string]any, error) {
	s := g.structure
	od := map[string]any{}

	if g.Name != GroupRoot {
		// (1) 主键
		pk := s.Resolve(AttrPrimaryKey)
		v, err := pk.Extract(row, s.parser)
		if err != nil {
			return nil, err
		}
		od[AttrPrimaryKey] = v

		// (2) shared 属性
		for _, attr := range s.group(GroupShared).Attributes {
			v, err := attr.Extract(row, s.parser)
			if err != nil {
				return nil, err
			}
			od[attr.Name] = v
		}
	}

	// (3) 本分组属性
	flag := false
	for _, attr := range g.Attributes {
		v, err := attr.Extract(row, s.parser)
		if err != nil {
			return nil, err
		}
		od[attr.Name] = v
		flag = flag || v != nil
	}

	if flag {
		return od, nil
	}
	return nil, nil
}

// Structure 结构注册表：持有全部已知属性，负责列名解析、
// 新列发现、结构描述文档的导出与导入。
// 属性只增加或重新归类，从不自动删除。
type Structure struct {
	attributes []*Attribute
	parser     *Parser
	tolerance  map[string]float64
	logger     *zap.Logger
}

// NewStructure 以默认结构创建注册表
func NewStructure(logger *zap.Logger) *Structure {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Structure{
		attributes: defaultAttributes(),
		parser:     NewParser(),
		tolerance:  map[string]float64{"BMI": 1.0},
		logger:     logger,
	}
	return s
}

// defaultAttributes 出厂结构：身份字段与共享字段的本地化别名
func defaultAttributes() []*Attribute {
	return []*Attribute{
		NewAttribute(AttrPrimaryKey, GroupRoot, TypeStr, "病历号", "ID"),
		NewAttribute(AttrName, GroupRoot, TypeStr, "姓名"),
		NewAttribute(AttrGender, GroupRoot, TypeStr, "性别"),
		NewAttribute(AttrAge, GroupShared, TypeStr, "年龄"),
		NewAttribute(AttrDate, GroupShared, TypeDate, "日期"),
	}
}

// Parser 返回值解析器
func (s *Structure) Parser() *Parser { return s.parser }

// Attributes 当前属性列表
func (s *Structure) Attributes() []*Attribute { return s.attributes }

// SetTolerance 设置属性的数值合并容差（0 为严格相等）
func (s *Structure) SetTolerance(attribute string, delta float64) {
	s.tolerance[attribute] = delta
}

// ToleranceFor 查询属性的数值合并容差
func (s *Structure) ToleranceFor(attribute string) float64 {
	return s.tolerance[attribute]
}

// Resolve 按规范名（优先）或别名解析列名；未知列返回 nil
func (s *Structure) Resolve(column string) *Attribute {
	for _, attr := range s.attributes {
		if attr.Name == column {
			return attr
		}
	}
	for _, attr := range s.attributes {
		if attr.hasAlias(column) {
			return attr
		}
	}
	return nil
}

// RootGroup root 分组
func (s *Structure) RootGroup() *Group { return s.group(GroupRoot) }

// SharedGroup shared 分组
func (s *Structure) SharedGroup() *Group { return s.group(GroupShared) }

// PendingGroup pending 分组
func (s *Structure) PendingGroup() *Group { return s.group(GroupPending) }

// DroppedGroup dropped 分组
func (s *Structure) DroppedGroup() *Group { return s.group(GroupDropped) }

// LeafGroups 按首见顺序返回全部叶子分组（内置分组除外）
func (s *Structure) LeafGroups() []*Group {
	var order []string
	groups := map[string]*Group{}
	for _, attr := range s.attributes {
		switch attr.Group {
		case GroupRoot, GroupShared, GroupPending, GroupDropped:
			continue
		}
		g, ok := groups[attr.Group]
		if !ok {
			g = &Group{Name: attr.Group, structure: s}
			groups[attr.Group] = g
			order = append(order, attr.Group)
		}
		g.Attributes = append(g.Attributes, attr)
	}
	out := make([]*Group, 0, len(order))
	for _, name := range order {
		out = append(out, groups[name])
	}
	return out
}

// IsLeafGroup 判断分组名是否为叶子分组
func (s *Structure) IsLeafGroup(name string) bool {
	for _, g := range s.LeafGroups() {
		if g.Name == name {
			return true
		}
	}
	return false
}

func (s *Structure) group(name string) *Group {
	g := &Group{Name: name, structure: s}
	for _, attr := range s.attributes {
		if attr.Group == name {
			g.Attributes = append(g.Attributes, attr)
		}
	}
	return g
}

// RegisterAlias 将原始列登记为属性别名，保持 规范名∪别名 全局单射
func (s *Structure) RegisterAlias(attr *Attribute, alias string) error {
	if owner := s.Resolve(alias); owner != nil && owner != attr {
		return &SchemaConflictError{
			Attribute: attr.Name,
			Alias:     alias,
			Reason:    fmt.Sprintf("alias already owned by attribute `%s`", owner.Name),
		}
	}
	if !attr.hasAlias(alias) {
		attr.Alias = append(attr.Alias, alias)
	}
	return nil
}

// Refresh 扫描全部批次，为尚未解析的列创建 pending 属性；
// 与批次声明主键列同名的列改为登记为主键属性的别名。
// 返回新增属性数。
func (s *Structure) Refresh(batches []*Batch) (int, error) {
	n := 0
	for _, batch := range batches {
		for _, col := range batch.Columns() {
			// 跳过空白表头标记列
			if strings.HasPrefix(col, tabular.UnnamedPrefix) {
				continue
			}
			if s.Resolve(col) != nil {
				continue
			}
			if col == batch.PrimaryKey {
				if err := s.RegisterAlias(s.Resolve(AttrPrimaryKey), col); err != nil {
					return n, err
				}
				continue
			}
			s.attributes = append(s.attributes, NewAttribute(col, GroupPending, TypeStr))
			n++
		}
	}
	s.logger.Info("structure refreshed", zap.Int("new_attributes", n))
	return n, nil
}

// EmptyRowTemplate 生成指定分组的空行模板：主键 + shared（任一请求分组为叶子
// 分组时自动加入）+ 各请求分组自身属性。返回有序键列表，保证导出各行列一致。
func (s *Structure) EmptyRowTemplate(groups []string) []string {
	expanded := groups
	for _, name := range groups {
		if s.IsLeafGroup(name) {
			expanded = append([]string{GroupShared}, groups...)
			break
		}
	}

	keys := []string{AttrPrimaryKey}
	seen := map[string]struct{}{AttrPrimaryKey: {}}
	for _, name := range expanded {
		for _, attr := range s.group(name).Attributes {
			if _, ok := seen[attr.Name]; ok {
				continue
			}
			seen[attr.Name] = struct{}{}
			keys = append(keys, attr.Name)
		}
	}
	return keys
}

// ExportDocument 将结构序列化为多节描述文档（每个分组一节），供人工审阅归类。
// 节顺序：pending、root、叶子分组、shared、dropped；空分组跳过。
func (s *Structure) ExportDocument() []*tabular.Table {
	var tables []*tabular.Table
	appendGroup := func(g *Group) {
		if g.Len() == 0 {
			return
		}
		t := &tabular.Table{Name: g.Name, Columns: structureColumns}
		for _, attr := range g.Attributes {
			t.Rows = append(t.Rows, []string{attr.Name, "", attr.Type, g.Name, attr.Remark})
			for _, alias := range attr.Alias {
				t.Rows = append(t.Rows, []string{alias, attr.Name, attr.Type, g.Name, attr.Remark})
			}
		}
		tables = append(tables, t)
	}

	appendGroup(s.PendingGroup())
	appendGroup(s.RootGroup())
	for _, g := range s.LeafGroups() {
		appendGroup(g)
	}
	appendGroup(s.SharedGroup())
	appendGroup(s.DroppedGroup())
	return tables
}

// describedColumn 导入时一行描述
type describedColumn struct {
	column string
	cname  string
	dtype  string
	group  string
	remark string
}

// ImportDocument 读回结构描述文档并重建属性列表。
// 校验全部通过后才替换既有结构；导入后所有已摄入批次的列必须可解析。
func (s *Structure) ImportDocument(tables []*tabular.Table, batches []*Batch) error {
	// (1) 汇总所有节的描述行
	var described []describedColumn
	seen := map[string]struct{}{}
	for _, t := range tables {
		for i := range t.Rows {
			row := t.RowMap(i)
			col := row["column"]
			if col == "" {
				continue
			}
			if _, dup := seen[col]; dup {
				return &SchemaConflictError{Attribute: col, Reason: "column described twice"}
			}
			seen[col] = struct{}{}
			described = append(described, describedColumn{
				column: col,
				cname:  row["canonical_name"],
				dtype:  row["dtype"],
				group:  row["group"],
				remark: row["remark"],
			})
		}
	}
	s.logger.Info("importing structure", zap.Int("columns", len(described)))

	// (2) 从出厂结构出发生成新属性表
	var order []string
	attrs := map[string]*Attribute{}
	for _, attr := range defaultAttributes() {
		attrs[attr.Name] = attr
		order = append(order, attr.Name)
	}
	resolve := func(column string) *Attribute {
		for _, name := range order {
			if name == column {
				return attrs[name]
			}
		}
		for _, name := range order {
			if attrs[name].hasAlias(column) {
				return attrs[name]
			}
		}
		return nil
	}

	for _, d := range described {
		if d.cname != "" {
			master, ok := attrs[d.cname]
			if !ok {
				master = NewAttribute(d.cname, d.group, d.dtype)
				master.Remark = d.remark
				attrs[d.cname] = master
				order = append(order, d.cname)
			}
			// 注意：column 可能已登记在内置属性上
			if owner := resolve(d.column); owner != nil && owner != master {
				return &SchemaConflictError{
					Attribute: master.Name,
					Alias:     d.column,
					Reason:    fmt.Sprintf("alias already owned by attribute `%s`", owner.Name),
				}
			}
			if !master.hasAlias(d.column) && master.Name != d.column {
				master.Alias = append(master.Alias, d.column)
			}
			if d.group != master.Group {
				return &SchemaConflictError{
					Attribute: master.Name,
					Alias:     d.column,
					Reason: fmt.Sprintf("canonical attribute group `%s` differs from alias group `%s`",
						master.Group, d.group),
				}
			}
		} else if resolve(d.column) == nil {
			attr := NewAttribute(d.column, d.group, d.dtype)
			attr.Remark = d.remark
			attrs[d.column] = attr
			order = append(order, d.column)
		}
	}

	// (3) 一致性检查：所有已摄入批次的列必须可解析
	for _, batch := range batches {
		for _, col := range batch.Columns() {
			if strings.HasPrefix(col, tabular.UnnamedPrefix) {
				continue
			}
			if resolve(col) == nil {
				return &SchemaConflictError{
					Attribute: col,
					Reason:    fmt.Sprintf("column from `%s` not found in imported structure", batch.FileName),
				}
			}
		}
	}

	// (4) 替换属性表
	newAttrs := make([]*Attribute, 0, len(order))
	for _, name := range order {
		newAttrs = append(newAttrs, attrs[name])
	}
	s.attributes = newAttrs
	s.logger.Info("structure imported", zap.Int("attributes", len(newAttrs)))
	return nil
}

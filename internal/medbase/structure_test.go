package medbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbase/internal/tabular"
)

func newTestTable(columns []string, rows ...[]string) *tabular.Table {
	return &tabular.Table{Name: "Sheet1", Columns: columns, Rows: rows}
}

func TestStructure_ResolveByNameAndAlias(t *testing.T) {
	s := NewStructure(nil)

	attr := s.Resolve("病历号")
	require.NotNil(t, attr)
	assert.Equal(t, AttrPrimaryKey, attr.Name)

	assert.Same(t, attr, s.Resolve(AttrPrimaryKey))
	assert.Same(t, attr, s.Resolve("ID"))
	assert.Nil(t, s.Resolve("不存在的列"))
}

func TestStructure_RegisterAliasInjectivity(t *testing.T) {
	s := NewStructure(nil)

	nameAttr := s.Resolve(AttrName)
	// "姓名" 已归属 name，登记到 gender 上必须冲突
	err := s.RegisterAlias(s.Resolve(AttrGender), "姓名")
	var serr *SchemaConflictError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, AttrGender, serr.Attribute)

	// 自身重复登记幂等
	require.NoError(t, s.RegisterAlias(nameAttr, "姓名"))
	assert.Len(t, nameAttr.Alias, 1)
}

func TestStructure_RefreshDiscoversPendingAttributes(t *testing.T) {
	s := NewStructure(nil)

	table := newTestTable(
		[]string{"病历号", "诊断一", "Unnamed: 3"},
		[]string{"X001", "T1N", ""},
	)
	batch, err := NewBatch("a.xlsx", table, "病历号", nil)
	require.NoError(t, err)

	n, err := s.Refresh([]*Batch{batch})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	attr := s.Resolve("诊断一")
	require.NotNil(t, attr)
	assert.Equal(t, GroupPending, attr.Group)

	// 空白表头标记列不参与发现
	assert.Nil(t, s.Resolve("Unnamed: 3"))

	// 再次刷新幂等
	n, err = s.Refresh([]*Batch{batch})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStructure_RefreshRegistersPrimaryKeyAlias(t *testing.T) {
	s := NewStructure(nil)

	table := newTestTable(
		[]string{"patient_no", "诊断一"},
		[]string{"X001", "T1N"},
	)
	batch, err := NewBatch("b.xlsx", table, "patient_no", nil)
	require.NoError(t, err)

	_, err = s.Refresh([]*Batch{batch})
	require.NoError(t, err)

	// 批次声明的主键列成为主键属性的别名而非新属性
	attr := s.Resolve("patient_no")
	require.NotNil(t, attr)
	assert.Equal(t, AttrPrimaryKey, attr.Name)
}

func TestStructure_LeafGroupsFirstSeenOrder(t *testing.T) {
	s := NewStructure(nil)
	s.attributes = append(s.attributes,
		NewAttribute("diagnosis1", "diagnosis", TypeStr),
		NewAttribute("orexin", "lab", TypeFloat),
		NewAttribute("diagnosis2", "diagnosis", TypeStr),
	)

	leaves := s.LeafGroups()
	require.Len(t, leaves, 2)
	assert.Equal(t, "diagnosis", leaves[0].Name)
	assert.Equal(t, "lab", leaves[1].Name)
	assert.Equal(t, 2, leaves[0].Len())
	assert.True(t, s.IsLeafGroup("lab"))
	assert.False(t, s.IsLeafGroup(GroupShared))
}

func TestStructure_EmptyRowTemplate(t *testing.T) {
	s := NewStructure(nil)
	s.attributes = append(s.attributes,
		NewAttribute("diagnosis1", "diagnosis", TypeStr),
	)

	// root 模板不带 shared
	keys := s.EmptyRowTemplate([]string{GroupRoot})
	assert.Equal(t, []string{AttrPrimaryKey, AttrName, AttrGender}, keys)

	// 请求叶子分组时自动带上 shared
	keys = s.EmptyRowTemplate([]string{"diagnosis"})
	assert.Equal(t, []string{AttrPrimaryKey, AttrAge, AttrDate, "diagnosis1"}, keys)
}

func TestStructure_ExportImportRoundTrip(t *testing.T) {
	s := NewStructure(nil)
	s.attributes = append(s.attributes,
		NewAttribute("diagnosis1", "diagnosis", TypeStr, "诊断一"),
		NewAttribute("orexin", "lab", TypeFloat),
	)

	doc := s.ExportDocument()

	// 导入到一个全新的结构
	s2 := NewStructure(nil)
	require.NoError(t, s2.ImportDocument(doc, nil))

	// 规范名、别名、分组、类型在人工审阅循环后仍可解析
	for _, col := range []string{AttrPrimaryKey, "病历号", "ID", "姓名", "性别", "年龄", "日期"} {
		assert.NotNil(t, s2.Resolve(col), "column %q lost on round-trip", col)
	}
	attr := s2.Resolve("诊断一")
	require.NotNil(t, attr)
	assert.Equal(t, "diagnosis1", attr.Name)
	assert.Equal(t, "diagnosis", attr.Group)

	orexin := s2.Resolve("orexin")
	require.NotNil(t, orexin)
	assert.Equal(t, TypeFloat, orexin.Type)
	assert.Equal(t, "lab", orexin.Group)
}

func TestStructure_ImportCategoryConflict(t *testing.T) {
	s := NewStructure(nil)

	// 别名声明的分组与规范属性不一致
	doc := []*tabular.Table{{
		Name:    "lab",
		Columns: []string{"column", "canonical_name", "dtype", "group", "remark"},
		Rows: [][]string{
			{"orexin", "", "float", "lab", ""},
			{"食欲素", "orexin", "float", "diagnosis", ""},
		},
	}}
	err := s.ImportDocument(doc, nil)
	var serr *SchemaConflictError
	require.ErrorAs(t, err, &serr)
}

func TestStructure_ImportUnresolvedBatchColumn(t *testing.T) {
	s := NewStructure(nil)

	table := newTestTable([]string{"病历号", "诊断一"}, []string{"X001", "T1N"})
	batch, err := NewBatch("a.xlsx", table, "病历号", nil)
	require.NoError(t, err)

	// 描述文档没有覆盖 诊断一 → 一致性错误，结构保持不变
	before := len(s.Attributes())
	doc := NewStructure(nil).ExportDocument()
	err = s.ImportDocument(doc, []*Batch{batch})
	var serr *SchemaConflictError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, s.Attributes(), before)
}

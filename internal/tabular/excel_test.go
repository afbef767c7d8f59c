package tabular

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcel_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	excel := NewExcel()

	tables := []*Table{
		{
			Name:    "root",
			Columns: []string{"病历号", "姓名"},
			Rows: [][]string{
				{"X001", "张三"},
				{"X002", "李四"},
			},
		},
		{
			Name:    "lab",
			Columns: []string{"病历号", "orexin"},
			Rows: [][]string{
				{"X001", "71"},
			},
		},
	}
	require.NoError(t, excel.WriteDocument(path, tables))

	got, err := excel.ReadDocument(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "root", got[0].Name)
	assert.Equal(t, []string{"病历号", "姓名"}, got[0].Columns)
	assert.Equal(t, [][]string{{"X001", "张三"}, {"X002", "李四"}}, got[0].Rows)

	// ReadTable 取第一个工作表
	first, err := excel.ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "root", first.Name)
}

func TestExcel_ReadMissingFile(t *testing.T) {
	excel := NewExcel()
	_, err := excel.ReadDocument(filepath.Join(t.TempDir(), "nope.xlsx"))
	require.Error(t, err)
}

func TestNormalizeHeader(t *testing.T) {
	got := NormalizeHeader([]string{"病历号", "", "年龄"})
	assert.Equal(t, []string{"病历号", "Unnamed: 2", "年龄"}, got)
}

func TestTable_RowMapPadsShortRows(t *testing.T) {
	table := &Table{
		Columns: []string{"a", "b", "c"},
		Rows:    [][]string{{"1", "2"}},
	}
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, table.RowMap(0))
}

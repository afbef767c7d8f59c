// Package tabular 提供带表头的原始数据表抽象。
// 核心引擎只依赖这里的接口，不直接依赖任何具体文件格式库。
package tabular

import "fmt"

// UnnamedPrefix 空白表头列的标记前缀（列号从 1 开始）
const UnnamedPrefix = "Unnamed:"

// Table 一个带表头的原始数据表（对应一个工作表）。
// 所有单元格以字符串形式保存，类型化由上层解析器负责。
type Table struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NumRows 数据行数（不含表头）
func (t *Table) NumRows() int { return len(t.Rows) }

// RowMap 将第 i 行转换为 列名 -> 单元格 的字典。
// 短行按空串补齐；重复列名以后出现者为准。
func (t *Table) RowMap(i int) map[string]string {
	m := make(map[string]string, len(t.Columns))
	row := t.Rows[i]
	for c, col := range t.Columns {
		if c < len(row) {
			m[col] = row[c]
		} else {
			m[col] = ""
		}
	}
	return m
}

// NormalizeHeader 将空白表头替换为 "Unnamed: <n>" 标记列名
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if h == "" {
			out[i] = fmt.Sprintf("%s %d", UnnamedPrefix, i+1)
		} else {
			out[i] = h
		}
	}
	return out
}

// Source 读取单个数据表（取文档的第一个工作表）
type Source interface {
	ReadTable(path string) (*Table, error)
}

// DocumentReader 读取多工作表文档的全部数据表
type DocumentReader interface {
	ReadDocument(path string) ([]*Table, error)
}

// DocumentWriter 将多个数据表写为一个多工作表文档
type DocumentWriter interface {
	WriteDocument(path string, tables []*Table) error
}

// Backend 完整的表格文档后端
type Backend interface {
	Source
	DocumentReader
	DocumentWriter
}

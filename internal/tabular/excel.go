package tabular

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// Excel excelize 后端，实现 Backend 接口
type Excel struct{}

// NewExcel 创建 Excel 后端
func NewExcel() *Excel { return &Excel{} }

// ReadTable 读取文档的第一个工作表
func (e *Excel) ReadTable(path string) (*Table, error) {
	tables, err := e.ReadDocument(path)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no sheets found in `%s`", path)
	}
	return tables[0], nil
}

// ReadDocument 读取全部工作表
func (e *Excel) ReadDocument(path string) ([]*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("`%s` does not exist: %w", path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open `%s`: %w", path, err)
	}
	defer f.Close()

	var tables []*Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet `%s`: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		t := &Table{Name: sheet, Columns: NormalizeHeader(rows[0])}
		for _, row := range rows[1:] {
			// 补齐 excelize 省略的行尾空单元格
			padded := make([]string, len(t.Columns))
			copy(padded, row)
			t.Rows = append(t.Rows, padded)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// WriteDocument 将数据表写为多工作表 Excel 文件，表头加粗并填充底色
func (e *Excel) WriteDocument(path string, tables []*Table) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, t := range tables {
		index, err := f.NewSheet(t.Name)
		if err != nil {
			return fmt.Errorf("failed to create sheet `%s`: %w", t.Name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}

		// 写入表头
		for col, header := range t.Columns {
			cell, err := excelize.CoordinatesToCellName(col+1, 1)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(t.Name, cell, header); err != nil {
				return fmt.Errorf("failed to set header cell %s: %w", cell, err)
			}
			if err := f.SetCellStyle(t.Name, cell, cell, headerStyle); err != nil {
				return fmt.Errorf("failed to set header style: %w", err)
			}
		}

		// 写入数据行
		for r, row := range t.Rows {
			for c, value := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+2)
				if err != nil {
					return fmt.Errorf("failed to convert coordinates: %w", err)
				}
				if err := f.SetCellValue(t.Name, cell, value); err != nil {
					return fmt.Errorf("failed to set cell %s: %w", cell, err)
				}
			}
		}
	}

	// 删除默认的 Sheet1
	if len(tables) > 0 && tables[0].Name != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save `%s`: %w", path, err)
	}
	return nil
}

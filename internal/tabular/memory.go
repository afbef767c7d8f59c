package tabular

import "fmt"

// Memory 内存后端；用于测试以及无文件场景。
// key 为文档路径，value 为工作表列表。
type Memory struct {
	Docs map[string][]*Table
}

// NewMemory 创建内存后端
func NewMemory() *Memory {
	return &Memory{Docs: map[string][]*Table{}}
}

func (m *Memory) ReadTable(path string) (*Table, error) {
	tables, err := m.ReadDocument(path)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no sheets found in `%s`", path)
	}
	return tables[0], nil
}

func (m *Memory) ReadDocument(path string) ([]*Table, error) {
	tables, ok := m.Docs[path]
	if !ok {
		return nil, fmt.Errorf("`%s` does not exist", path)
	}
	return tables, nil
}

func (m *Memory) WriteDocument(path string, tables []*Table) error {
	m.Docs[path] = tables
	return nil
}

package medbase

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"medbase/internal/tabular"
)

// batchState 批次的持久化形态
type batchState struct {
	ID         string         `json:"id"`
	FileName   string         `json:"file_name"`
	PrimaryKey string         `json:"primary_key,omitempty"`
	Parsed     bool           `json:"parsed"`
	Table      *tabular.Table `json:"table"`
}

// dbState 整库持久化状态：{批次, 结构, 匿名化注册表} 三元组
type dbState struct {
	DBName      string       `json:"db_name"`
	Attributes  []*Attribute `json:"attributes"`
	PrimaryKeys [][2]string  `json:"primary_keys"`
	Batches     []batchState `json:"batches"`
}

// Snapshot 将整库状态序列化为一个不透明单元
func (m *MedBase) Snapshot() ([]byte, error) {
	state := dbState{
		DBName:      m.DBName,
		Attributes:  m.Structure.Attributes(),
		PrimaryKeys: m.Rule.Pairs(),
	}
	for _, batch := range m.Batches() {
		state.Batches = append(state.Batches, batchState{
			ID:         batch.ID,
			FileName:   batch.FileName,
			PrimaryKey: batch.PrimaryKey,
			Parsed:     batch.Parsed(),
			Table:      batch.Table,
		})
	}
	return json.Marshal(&state)
}

// restore 从序列化单元重建整库状态
func (m *MedBase) restore(blob []byte) error {
	var state dbState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("failed to decode database state: %w", err)
	}

	if state.DBName != "" && state.DBName != m.DBName {
		m.logger.Warn("db name mismatch",
			zap.String("loaded", state.DBName), zap.String("expected", m.DBName))
	}

	m.Structure.attributes = state.Attributes
	m.Rule.Restore(state.PrimaryKeys)

	m.batches = map[string]*Batch{}
	m.batchOrder = nil
	for _, bs := range state.Batches {
		batch := &Batch{
			ID:          bs.ID,
			FileName:    bs.FileName,
			PrimaryKey:  bs.PrimaryKey,
			Table:       bs.Table,
			Fingerprint: fingerprint(bs.Table),
			registered:  map[string][]*Record{},
			logger:      m.logger,
		}
		if bs.Parsed {
			// 主键映射已恢复，重解析不改变已分配的内部标识
			if err := batch.Parse(m.Rule, true); err != nil {
				return fmt.Errorf("failed to re-parse batch `%s`: %w", bs.FileName, err)
			}
		}
		m.batches[batch.FileName] = batch
		m.batchOrder = append(m.batchOrder, batch.FileName)
	}
	return nil
}

// structureFileName 结构描述文档文件名
func (m *MedBase) structureFileName() string {
	return fmt.Sprintf("%s_structure.xlsx", m.DBName)
}

// ExportStructureFile 将结构描述文档写到数据库根目录，供人工审阅归类
func (m *MedBase) ExportStructureFile() error {
	path := filepath.Join(m.RootPath, m.structureFileName())
	if err := m.tab.WriteDocument(path, m.Structure.ExportDocument()); err != nil {
		return fmt.Errorf("failed to export structure: %w", err)
	}
	m.logger.Info("structure exported", zap.String("path", path))
	return nil
}

// ImportStructureFile 从数据库根目录读回结构描述文档。
// 文件不存在时记录告警并沿用既有结构。
func (m *MedBase) ImportStructureFile() error {
	path := filepath.Join(m.RootPath, m.structureFileName())
	tables, err := m.tab.ReadDocument(path)
	if err != nil {
		m.logger.Warn("structure file not available", zap.String("path", path), zap.Error(err))
		return nil
	}
	return m.Structure.ImportDocument(tables, m.Batches())
}

// Save 将整库状态写入持久化后端；exportStructure 为真时同时导出结构描述文档
func (m *MedBase) Save(ctx context.Context, st StateStore, exportStructure bool) error {
	blob, err := m.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	if err := st.Save(ctx, m.DBName, blob); err != nil {
		return fmt.Errorf("failed to save database: %w", err)
	}
	m.logger.Info("database saved", zap.String("db_name", m.DBName))

	if exportStructure {
		return m.ExportStructureFile()
	}
	return nil
}

// Load 从持久化后端恢复整库状态。根目录由调用方给出（通常从加载路径派生），
// 不使用持久化单元中的任何绝对路径；随后尝试导入伴随的结构描述文档。
func Load(ctx context.Context, st StateStore, dbName, rootPath string,
	tab tabular.Backend, logger *zap.Logger) (*MedBase, error) {

	m, err := New(rootPath, dbName, tab, logger)
	if err != nil {
		return nil, err
	}

	blob, err := st.Load(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to load database `%s`: %w", dbName, err)
	}
	if err := m.restore(blob); err != nil {
		return nil, err
	}

	if err := m.ImportStructureFile(); err != nil {
		return nil, err
	}
	return m, nil
}

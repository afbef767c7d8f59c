// Package medbase 实现医疗记录整合引擎：结构注册表、批次摄入、
// 按患者聚合与导出/脱敏。
package medbase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"medbase/internal/tabular"
)

// DBFileExt 数据库持久化文件扩展名
const DBFileExt = ".mdb"

// DefaultColumnRenames 导出列重命名默认方案
var DefaultColumnRenames = map[string]string{
	AttrPrimaryKey: "病历号",
	AttrAge:        "年龄",
	AttrDate:       "检查时间",
	AttrName:       "姓名",
	AttrGender:     "性别",
	"orexin":       "食欲素",
}

// DefaultGroupRenames 导出工作表重命名默认方案
var DefaultGroupRenames = map[string]string{
	GroupRoot: "info",
	"scale":   "naire",
}

// Fetcher 远程批次下载器（摄入 URL 时使用）
type Fetcher interface {
	Download(ctx context.Context, url, destDir string) (string, error)
}

// StateStore 持久化后端：整库状态作为一个不透明单元读写
type StateStore interface {
	Save(ctx context.Context, name string, state []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// MedBase 顶层存储：持有批次集合、结构注册表与匿名化注册表，
// 负责摄入、结构刷新、持久化与导出。单进程单写者。
type MedBase struct {
	RootPath string
	DBName   string

	Rule      *Rule
	Structure *Structure

	batches    map[string]*Batch
	batchOrder []string

	tab     tabular.Backend
	fetcher Fetcher
	arbiter Arbitrator
	logger  *zap.Logger
}

// New 创建数据库实例。registries 为实例所有，不使用进程级单例。
func New(rootPath, dbName string, tab tabular.Backend, logger *zap.Logger) (*MedBase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(rootPath); err != nil {
		return nil, &PreconditionError{Op: "new medbase", Reason: fmt.Sprintf("root path not found: `%s`", rootPath)}
	}
	return &MedBase{
		RootPath:  rootPath,
		DBName:    dbName,
		Rule:      NewRule(),
		Structure: NewStructure(logger),
		batches:   map[string]*Batch{},
		tab:       tab,
		arbiter:   DenyArbitrator{},
		logger:    logger,
	}, nil
}

// SetFetcher 设置远程批次下载器
func (m *MedBase) SetFetcher(f Fetcher) { m.fetcher = f }

// SetArbitrator 设置冲突仲裁策略
func (m *MedBase) SetArbitrator(a Arbitrator) { m.arbiter = a }

// Batches 按摄入顺序返回批次
func (m *MedBase) Batches() []*Batch {
	out := make([]*Batch, 0, len(m.batchOrder))
	for _, name := range m.batchOrder {
		out = append(out, m.batches[name])
	}
	return out
}

// Ingest 摄入一个批次文件（本地路径或 http(s) URL）。
// 内容指纹与已有批次相同时幂等返回既有批次并记录告警；
// autoRegister 为真时立即解析；随后刷新结构注册表。
func (m *MedBase) Ingest(ctx context.Context, path, primaryKey string, autoRegister bool) (*Batch, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if m.fetcher == nil {
			return nil, &PreconditionError{Op: "ingest", Reason: "no fetcher configured for remote path"}
		}
		local, err := m.fetcher.Download(ctx, path, m.RootPath)
		if err != nil {
			return nil, fmt.Errorf("failed to download batch: %w", err)
		}
		path = local
	}

	m.logger.Info("reading raw data", zap.String("path", path))
	table, err := m.tab.ReadTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch table: %w", err)
	}

	batch, err := NewBatch(filepath.Base(path), table, primaryKey, m.logger)
	if err != nil {
		return nil, err
	}

	// 指纹幂等检查
	for _, name := range m.batchOrder {
		old := m.batches[name]
		if old.Fingerprint == batch.Fingerprint {
			m.logger.Warn("batch already ingested",
				zap.String("file", batch.FileName),
				zap.String("existing", old.FileName))
			return old, nil
		}
	}

	if _, exists := m.batches[batch.FileName]; !exists {
		m.batchOrder = append(m.batchOrder, batch.FileName)
	}
	m.batches[batch.FileName] = batch
	m.logger.Info("batch added",
		zap.String("file", batch.FileName),
		zap.String("batch_id", batch.ID),
		zap.Int("rows", batch.NumRecords()))

	if autoRegister {
		if err := batch.Parse(m.Rule, false); err != nil {
			return nil, err
		}
	}

	if _, err := m.Structure.Refresh(m.Batches()); err != nil {
		return nil, err
	}
	return batch, nil
}

// Patients 跨批次按原始主键聚合患者（主键首见顺序）
func (m *MedBase) Patients() []*Patient {
	byKey := map[string]*Patient{}
	var order []string
	for _, batch := range m.Batches() {
		for _, key := range batch.RegisteredKeys() {
			p, ok := byKey[key]
			if !ok {
				p = &Patient{
					PrimaryKey: key,
					structure:  m.Structure,
					rule:       m.Rule,
					arbiter:    m.arbiter,
				}
				byKey[key] = p
				order = append(order, key)
			}
			p.Records = append(p.Records, batch.Registered()[key]...)
		}
	}
	out := make([]*Patient, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// PendingRecords 全部批次中无可用主键的记录
func (m *MedBase) PendingRecords() []*Record {
	var pending []*Record
	for _, batch := range m.Batches() {
		pending = append(pending, batch.Pending()...)
	}
	return pending
}

// TotalRegistered 全部批次已登记记录总数
func (m *MedBase) TotalRegistered() int {
	n := 0
	for _, batch := range m.Batches() {
		n += batch.TotalRegistered()
	}
	return n
}

// ExportAll 分组转储：每个分组一个工作表，root 表每患者一行，
// 叶子分组表每 (患者, 记录) 一行。groups 为 nil 时导出全部叶子分组。
func (m *MedBase) ExportAll(path string, groups []string, mask bool,
	colRename, groupRename map[string]string) error {

	// (1) 确定分组（root 恒在）
	groupNames := []string{GroupRoot}
	if groups == nil {
		for _, g := range m.Structure.LeafGroups() {
			groupNames = append(groupNames, g.Name)
		}
	} else {
		for _, name := range groups {
			if !m.Structure.IsLeafGroup(name) {
				return &PreconditionError{Op: "export all", Reason: fmt.Sprintf("unknown leaf group `%s`", name)}
			}
			groupNames = append(groupNames, name)
		}
	}

	// (2) 按分组收集记录
	rows := map[string][]map[string]any{}
	for _, patient := range m.Patients() {
		rootDict, err := patient.RootDict()
		if err != nil {
			return err
		}
		rows[GroupRoot] = append(rows[GroupRoot], rootDict)

		recLists, order, err := patient.RecordsByGroup(groupNames)
		if err != nil {
			return err
		}
		for _, name := range order {
			rows[name] = append(rows[name], recLists[name]...)
		}
	}

	// (3) 组装文档
	var tables []*tabular.Table
	for _, name := range groupNames {
		keys := m.Structure.EmptyRowTemplate([]string{name})
		keys = dropEmptyColumns(keys, rows[name])
		if mask {
			m.maskRows(rows[name], keys)
		}
		sheetName := name
		if groupRename != nil {
			if renamed, ok := groupRename[name]; ok {
				sheetName = renamed
			}
		}
		tables = append(tables, buildTable(sheetName, keys, rows[name], colRename))
	}

	if err := m.tab.WriteDocument(path, tables); err != nil {
		return err
	}
	m.logger.Info("exported grouped dump", zap.String("path", path))
	return nil
}

// Export 扁平宽表导出：每患者产出零或多行，每行为一个按日期精确匹配的
// 跨分组记录捆。目前仅支持 `*` 选择器与 mergeRadius=0。
func (m *MedBase) Export(path string, selector string, groups []string,
	mergeRadius int, mask bool, includeInternalKey bool) (*tabular.Table, error) {

	if selector != "*" {
		return nil, &PreconditionError{Op: "export", Reason: "currently only `*` selector is supported"}
	}
	if mergeRadius != 0 {
		return nil, &PreconditionError{Op: "export", Reason: "merge radius beyond 0 is not supported"}
	}

	keys := m.Structure.EmptyRowTemplate(groups)
	if includeInternalKey {
		keys = append(keys, "internal_key")
	}
	emptyRow := func() map[string]any {
		row := make(map[string]any, len(keys))
		for _, k := range keys {
			row[k] = nil
		}
		return row
	}
	hasRoot := false
	for _, g := range groups {
		if g == GroupRoot {
			hasRoot = true
		}
	}

	var rows []map[string]any
	for _, patient := range m.Patients() {
		patientInfo, err := patient.RootDict()
		if err != nil {
			return nil, err
		}
		if includeInternalKey {
			patientInfo["internal_key"] = patient.InternalKey()
		}

		recLists, order, err := patient.RecordsByGroup(groups)
		if err != nil {
			return nil, err
		}

		if len(order) == 0 {
			// 只要求导出 root 分组的情形
			if !hasRoot {
				continue
			}
			row := emptyRow()
			applyRow(row, patientInfo)
			rows = append(rows, row)
			continue
		}

		for len(order) > 0 {
			row := emptyRow()
			if hasRoot {
				applyRow(row, patientInfo)
			}

			// 从首个剩余分组取一条记录作为锚
			main := order[0]
			rec := recLists[main][0]
			recLists[main] = recLists[main][1:]
			anchorDate := rec[AttrDate]
			applyRow(row, rec)

			// 在其余分组中拉取日期相同的记录（先到先得）
			for _, name := range order[1:] {
				list := recLists[name]
				for i, cand := range list {
					if valuesEqual(cand[AttrDate], anchorDate) {
						applyRow(row, cand)
						recLists[name] = append(list[:i:i], list[i+1:]...)
						break
					}
				}
			}

			rows = append(rows, row)

			var remaining []string
			for _, name := range order {
				if len(recLists[name]) > 0 {
					remaining = append(remaining, name)
				}
			}
			order = remaining
		}
	}

	keys = dropEmptyColumns(keys, rows)
	if mask {
		m.maskRows(rows, keys)
	}
	table := buildTable(m.DBName, keys, rows, nil)

	if path != "" {
		if err := m.tab.WriteDocument(path, []*tabular.Table{table}); err != nil {
			return nil, err
		}
		m.logger.Info("exported flat table", zap.String("path", path), zap.Int("rows", len(rows)))
	}
	return table, nil
}

// maskRows 脱敏：主键替换为内部标识，姓名替换为由内部标识序号派生的代称
func (m *MedBase) maskRows(rows []map[string]any, keys []string) {
	hasPK, hasName := false, false
	for _, k := range keys {
		if k == AttrPrimaryKey {
			hasPK = true
		}
		if k == AttrName {
			hasName = true
		}
	}
	if !hasPK {
		return
	}
	for _, row := range rows {
		raw, _ := row[AttrPrimaryKey].(string)
		internal, _ := m.Rule.InternalKey(raw)
		row[AttrPrimaryKey] = internal
		if hasName {
			row[AttrName] = maskedName(internal)
		}
	}
}

// maskedName 由内部标识的数字后缀派生展示名
func maskedName(internal string) string {
	if len(internal) <= len(InternalKeyPrefix) {
		return ""
	}
	n, err := strconv.Atoi(internal[len(InternalKeyPrefix):])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Name_%d", n)
}

// Report 输出数据库状态报告
func (m *MedBase) Report(w io.Writer) error {
	patients := m.Patients()
	fmt.Fprintf(w, "Details of `%s` database\n", m.DBName)
	fmt.Fprintf(w, "  Patient #: %d\n", len(patients))
	fmt.Fprintf(w, "  Registered primary key #: %d\n", m.Rule.Count())
	fmt.Fprintf(w, "  Registered record #: %d\n", m.TotalRegistered())
	fmt.Fprintf(w, "  Pending record #: %d\n", len(m.PendingRecords()))

	fmt.Fprintf(w, "  Structure (%d attributes):\n", len(m.Structure.Attributes()))
	report := func(g *Group, prefix string) {
		fmt.Fprintf(w, "    %sGroup `%s`: %d attributes\n", prefix, g.Name, g.Len())
	}
	report(m.Structure.RootGroup(), "Builtin-")
	report(m.Structure.SharedGroup(), "Builtin-")
	for _, g := range m.Structure.LeafGroups() {
		report(g, "")
	}
	report(m.Structure.PendingGroup(), "Builtin-")
	report(m.Structure.DroppedGroup(), "Builtin-")

	fmt.Fprintf(w, "  DataBatch #: %d\n", len(m.batchOrder))
	for i, batch := range m.Batches() {
		fmt.Fprintf(w, "    [%d] `%s`: %d rows registered, %d pending.\n",
			i+1, batch.FileName, batch.TotalRegistered(), len(batch.Pending()))
	}
	return nil
}

// applyRow 用记录更新行（不做冲突检查；冲突已在合并阶段处理）
func applyRow(row, rec map[string]any) {
	for k, v := range rec {
		row[k] = v
	}
}

// dropEmptyColumns 去掉所有行均为空的列
func dropEmptyColumns(keys []string, rows []map[string]any) []string {
	var kept []string
	for _, k := range keys {
		for _, row := range rows {
			if v, ok := row[k]; ok && v != nil {
				kept = append(kept, k)
				break
			}
		}
	}
	return kept
}

// buildTable 将行字典按统一列顺序渲染为数据表
func buildTable(name string, keys []string, rows []map[string]any, colRename map[string]string) *tabular.Table {
	columns := make([]string, len(keys))
	for i, k := range keys {
		columns[i] = k
		if colRename != nil {
			if renamed, ok := colRename[k]; ok {
				columns[i] = renamed
			}
		}
	}

	t := &tabular.Table{Name: name, Columns: columns}
	for _, row := range rows {
		cells := make([]string, len(keys))
		for i, k := range keys {
			cells[i] = formatValue(row[k])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// formatValue 类型化值的导出渲染
func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case time.Time:
		return n.Format(DateLayout)
	}
	return fmt.Sprint(v)
}

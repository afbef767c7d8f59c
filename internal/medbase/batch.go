package medbase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medbase/internal/tabular"
)

// Batch 一个已摄入的原始数据表。
// 解析后行被划分为两类：能解析出主键的（registered）与不能的（pending）。
type Batch struct {
	ID          string
	FileName    string
	PrimaryKey  string
	Table       *tabular.Table
	Fingerprint string

	registered map[string][]*Record
	keyOrder   []string
	pending    []*Record

	logger *zap.Logger
}

// NewBatch 包装一个原始数据表为批次并计算内容指纹。
// primaryKey 非空时必须出现在表头中。
func NewBatch(fileName string, table *tabular.Table, primaryKey string, logger *zap.Logger) (*Batch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if primaryKey != "" {
		found := false
		for _, col := range table.Columns {
			if col == primaryKey {
				found = true
				break
			}
		}
		if !found {
			return nil, &PreconditionError{
				Op:     "new batch",
				Reason: fmt.Sprintf("primary key `%s` not found in data columns: %v", primaryKey, table.Columns),
			}
		}
	}

	return &Batch{
		ID:          uuid.NewString(),
		FileName:    fileName,
		PrimaryKey:  primaryKey,
		Table:       table,
		Fingerprint: fingerprint(table),
		registered:  map[string][]*Record{},
		logger:      logger,
	}, nil
}

// fingerprint 对表内容（含表头，顺序敏感）计算 sha256 指纹
func fingerprint(table *tabular.Table) string {
	h := sha256.New()
	writeCells := func(cells []string) {
		for _, c := range cells {
			h.Write([]byte(c))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	writeCells(table.Columns)
	for _, row := range table.Rows {
		writeCells(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NumRecords 原始行数
func (b *Batch) NumRecords() int { return b.Table.NumRows() }

// Columns 表头列名
func (b *Batch) Columns() []string { return b.Table.Columns }

// Parsed 是否已解析
func (b *Batch) Parsed() bool {
	return len(b.registered) > 0 || len(b.pending) > 0
}

// Registered 按原始主键返回已登记记录（首见顺序由 RegisteredKeys 给出）
func (b *Batch) Registered() map[string][]*Record { return b.registered }

// RegisteredKeys 已登记主键的首见顺序
func (b *Batch) RegisteredKeys() []string { return b.keyOrder }

// Pending 无可用主键的记录
func (b *Batch) Pending() []*Record { return b.pending }

// TotalRegistered 已登记记录总数
func (b *Batch) TotalRegistered() int {
	n := 0
	for _, records := range b.registered {
		n += len(records)
	}
	return n
}

// Parse 解析批次：为每行判定主键候选并注册到匿名化注册表。
// 空批次返回 PreconditionError；已解析且未指定 overwrite 时记录告警并原样返回。
func (b *Batch) Parse(rule *Rule, overwrite bool) error {
	if b.NumRecords() == 0 {
		return &PreconditionError{Op: "parse batch", Reason: "no records found in the data batch"}
	}

	if overwrite {
		b.registered = map[string][]*Record{}
		b.keyOrder = nil
		b.pending = nil
	} else if b.Parsed() {
		b.logger.Warn("data batch already parsed, use overwrite to re-parse",
			zap.String("file", b.FileName))
		return nil
	}

	for i := 0; i < b.NumRecords(); i++ {
		record := &Record{batch: b, index: i}

		if b.PrimaryKey == "" {
			b.pending = append(b.pending, record)
			continue
		}

		key := record.RowMap()[b.PrimaryKey]
		if !rule.IsPrimaryKey(key) {
			b.pending = append(b.pending, record)
			continue
		}

		if _, err := rule.Register(key); err != nil {
			return fmt.Errorf("failed to register primary key from `%s`: %w", b.FileName, err)
		}
		if _, ok := b.registered[key]; !ok {
			b.keyOrder = append(b.keyOrder, key)
		}
		b.registered[key] = append(b.registered[key], record)
	}
	return nil
}

// Record 批次中的一行，持有批次回引以取得抽取时刻生效的结构
type Record struct {
	batch *Batch
	index int
}

// Batch 所属批次
func (r *Record) Batch() *Batch { return r.batch }

// RowMap 行的 列名 -> 原始单元格 字典
func (r *Record) RowMap() map[string]string {
	return r.batch.Table.RowMap(r.index)
}

// GroupDict 应用结构注册表得到分组视图：分组名 -> 属性 -> 类型化值。
// root 恒在（可能全空）；叶子分组仅在自身属性至少一个非空时出现。
// 返回的顺序切片为 root 在前、叶子分组按结构首见顺序。
func (r *Record) GroupDict(s *Structure) (map[string]map[string]any, []string, error) {
	row := r.RowMap()
	groups := map[string]map[string]any{}
	var order []string

	rootDict, err := s.RootGroup().Extract(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract record %d from `%s`: %w",
			r.index, r.batch.FileName, err)
	}
	if rootDict == nil {
		rootDict = map[string]any{}
		for _, attr := range s.RootGroup().Attributes {
			rootDict[attr.Name] = nil
		}
	}
	groups[GroupRoot] = rootDict
	order = append(order, GroupRoot)

	for _, leaf := range s.LeafGroups() {
		extracted, err := leaf.Extract(row)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to extract record %d from `%s`: %w",
				r.index, r.batch.FileName, err)
		}
		if extracted != nil {
			groups[leaf.Name] = extracted
			order = append(order, leaf.Name)
		}
	}
	return groups, order, nil
}

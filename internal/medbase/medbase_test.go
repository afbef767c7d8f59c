package medbase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbase/internal/tabular"
)

// newTestDB 内存后端上的空库
func newTestDB(t *testing.T) (*MedBase, *tabular.Memory) {
	t.Helper()
	mem := tabular.NewMemory()
	db, err := New(t.TempDir(), "test_db", mem, nil)
	require.NoError(t, err)
	return db, mem
}

func TestMedBase_IngestDiscoversColumns(t *testing.T) {
	db, mem := newTestDB(t)
	mem.Docs["a.xlsx"] = []*tabular.Table{newTestTable(
		[]string{"病历号", "姓名", "诊断一"},
		[]string{"X001", "张三", "T1N"},
	)}

	batch, err := db.Ingest(context.Background(), "a.xlsx", "病历号", true)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.TotalRegistered())

	// 新列进入 pending 分组
	attr := db.Structure.Resolve("诊断一")
	require.NotNil(t, attr)
	assert.Equal(t, GroupPending, attr.Group)
}

func TestMedBase_IngestDuplicateIsIdempotent(t *testing.T) {
	db, mem := newTestDB(t)
	table := newTestTable([]string{"病历号"}, []string{"X001"})
	mem.Docs["a.xlsx"] = []*tabular.Table{table}
	// 字节相同的内容换个文件名
	mem.Docs["copy.xlsx"] = []*tabular.Table{newTestTable([]string{"病历号"}, []string{"X001"})}

	first, err := db.Ingest(context.Background(), "a.xlsx", "病历号", true)
	require.NoError(t, err)

	again, err := db.Ingest(context.Background(), "copy.xlsx", "病历号", true)
	require.NoError(t, err)

	// 返回既有批次，不产生重复存储
	assert.Same(t, first, again)
	assert.Len(t, db.Batches(), 1)
}

// curateLabSchema 将发现的 pending 列人工归类到叶子分组
func curateLabSchema(db *MedBase) {
	diag := db.Structure.Resolve("诊断一")
	diag.Group = "diagnosis"

	orexin := db.Structure.Resolve("orexin")
	orexin.Group = "lab"
	orexin.Type = TypeFloat
}

// ingestScenarioBatches 摄入端到端场景的 A、B 两个批次
func ingestScenarioBatches(t *testing.T, db *MedBase, mem *tabular.Memory) {
	t.Helper()
	mem.Docs["a.xlsx"] = []*tabular.Table{newTestTable(
		[]string{"病历号", "姓名", "性别", "年龄", "日期", "诊断一"},
		[]string{"X001", "张三", "男", "45", "2024-01-01", "T1N"},
	)}
	mem.Docs["b.xlsx"] = []*tabular.Table{newTestTable(
		[]string{"病历号", "年龄", "日期", "orexin"},
		[]string{"X001", "45", "2024-01-01", "71"},
	)}

	_, err := db.Ingest(context.Background(), "a.xlsx", "病历号", true)
	require.NoError(t, err)
	_, err = db.Ingest(context.Background(), "b.xlsx", "病历号", true)
	require.NoError(t, err)
	curateLabSchema(db)
}

func TestMedBase_EndToEndFlatExport(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	// 两个批次映射到同一内部标识
	patients := db.Patients()
	require.Len(t, patients, 1)
	assert.Equal(t, "PID000001", patients[0].InternalKey())
	assert.Equal(t, 2, patients[0].NumRecords())

	table, err := db.Export("", "*", []string{GroupRoot, "diagnosis", "lab"}, 0, false, false)
	require.NoError(t, err)

	// 恰好一行：root 字段 + 同日期的 diagnosis 与 lab 记录捆
	require.Len(t, table.Rows, 1)
	row := table.RowMap(0)
	assert.Equal(t, "X001", row[AttrPrimaryKey])
	assert.Equal(t, "张三", row[AttrName])
	assert.Equal(t, "男", row[AttrGender])
	assert.Equal(t, "45", row[AttrAge])
	assert.Equal(t, "2024-01-01", row[AttrDate])
	assert.Equal(t, "T1N", row["诊断一"])
	assert.Equal(t, "71", row["orexin"])
}

func TestMedBase_ExportMasksIdentity(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	table, err := db.Export("", "*", []string{GroupRoot, "diagnosis"}, 0, true, false)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.RowMap(0)
	assert.Equal(t, "PID000001", row[AttrPrimaryKey])
	assert.Equal(t, "Name_1", row[AttrName])
}

func TestMedBase_ExportUnsupportedSelectors(t *testing.T) {
	db, _ := newTestDB(t)

	var perr *PreconditionError
	_, err := db.Export("", "some-query", []string{GroupRoot}, 0, true, false)
	require.ErrorAs(t, err, &perr)

	_, err = db.Export("", "*", []string{GroupRoot}, 3, true, false)
	require.ErrorAs(t, err, &perr)
}

func TestMedBase_ExportRootOnly(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	table, err := db.Export("", "*", []string{GroupRoot}, 0, false, true)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.RowMap(0)
	assert.Equal(t, "X001", row[AttrPrimaryKey])
	assert.Equal(t, "PID000001", row["internal_key"])
}

func TestMedBase_ExportAllGroupedDump(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	require.NoError(t, db.ExportAll("out.xlsx", nil, false, nil, nil))

	tables := mem.Docs["out.xlsx"]
	require.Len(t, tables, 3)
	byName := map[string]*tabular.Table{}
	for _, tb := range tables {
		byName[tb.Name] = tb
	}

	root := byName[GroupRoot]
	require.NotNil(t, root)
	require.Len(t, root.Rows, 1)
	assert.Equal(t, "张三", root.RowMap(0)[AttrName])

	lab := byName["lab"]
	require.NotNil(t, lab)
	require.Len(t, lab.Rows, 1)
	assert.Equal(t, "71", lab.RowMap(0)["orexin"])
}

func TestMedBase_ExportAllRenames(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	require.NoError(t, db.ExportAll("out.xlsx", []string{"diagnosis"}, true,
		DefaultColumnRenames, DefaultGroupRenames))

	tables := mem.Docs["out.xlsx"]
	require.Len(t, tables, 2)
	// root 工作表按方案改名为 info
	assert.Equal(t, "info", tables[0].Name)
	assert.Contains(t, tables[0].Columns, "病历号")
	// 脱敏后主键为内部标识
	assert.Equal(t, "PID000001", tables[0].RowMap(0)["病历号"])
}

func TestMedBase_SaveLoadRoundTrip(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	blob, err := db.Snapshot()
	require.NoError(t, err)

	restored, err := New(db.RootPath, db.DBName, mem, nil)
	require.NoError(t, err)
	require.NoError(t, restored.restore(blob))

	// 匿名身份空间与批次解析结果完整恢复
	assert.Equal(t, 2, restored.TotalRegistered())
	patients := restored.Patients()
	require.Len(t, patients, 1)
	assert.Equal(t, "PID000001", patients[0].InternalKey())

	// 结构（含 pending 归类结果）同样恢复
	attr := restored.Structure.Resolve("orexin")
	require.NotNil(t, attr)
	assert.Equal(t, "lab", attr.Group)
}

func TestMedBase_StructureFileRoundTrip(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	require.NoError(t, db.ExportStructureFile())

	// 新实例（同批次）读回人工审阅后的结构描述
	db2, err := New(db.RootPath, db.DBName, mem, nil)
	require.NoError(t, err)
	blob, err := db.Snapshot()
	require.NoError(t, err)
	require.NoError(t, db2.restore(blob))

	require.NoError(t, db2.ImportStructureFile())
	attr := db2.Structure.Resolve("orexin")
	require.NotNil(t, attr)
	assert.Equal(t, "lab", attr.Group)
}

func TestMedBase_ImportStructureFileMissingIsWarning(t *testing.T) {
	db, _ := newTestDB(t)
	// 文件缺失是非致命告警，沿用既有结构
	require.NoError(t, db.ImportStructureFile())
}

func TestMedBase_Report(t *testing.T) {
	db, mem := newTestDB(t)
	ingestScenarioBatches(t, db, mem)

	var sb strings.Builder
	require.NoError(t, db.Report(&sb))
	out := sb.String()
	assert.Contains(t, out, "Patient #: 1")
	assert.Contains(t, out, "DataBatch #: 2")
}

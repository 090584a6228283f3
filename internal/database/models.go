package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/freedkr/bc3tree/internal/model"
)

// 导入状态
const (
	ImportStatusPending    = "pending"
	ImportStatusProcessing = "processing"
	ImportStatusCompleted  = "completed"
	ImportStatusRejected   = "rejected"
	ImportStatusFailed     = "failed"
)

// ImportRecord 导入记录，对应一次BC3文件上传
type ImportRecord struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	FileName     string          `json:"file_name" gorm:"type:varchar(255);not null"`
	ObjectKey    string          `json:"object_key" gorm:"type:text;not null"`
	FileSize     int64           `json:"file_size" gorm:"not null;default:0"`
	MD5Hash      string          `json:"md5_hash" gorm:"type:varchar(32)"`
	Encoding     string          `json:"encoding,omitempty" gorm:"type:varchar(32)"`
	Status       string          `json:"status" gorm:"type:varchar(32);not null;index"`
	ParseStats   datatypes.JSON  `json:"parse_stats,omitempty" gorm:"type:jsonb"`
	BuildStats   datatypes.JSON  `json:"build_stats,omitempty" gorm:"type:jsonb"`
	Validation   datatypes.JSON  `json:"validation,omitempty" gorm:"type:jsonb"`
	Exports      pq.StringArray  `json:"exports,omitempty" gorm:"type:text[]"`
	TotalNodes   int             `json:"total_nodes" gorm:"not null;default:0"`
	MaxLevel     int             `json:"max_level" gorm:"not null;default:0"`
	TotalBudget  decimal.Decimal `json:"total_budget" gorm:"type:decimal(20,4);not null;default:0"`
	ErrorMsg     string          `json:"error_msg,omitempty" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null;default:now()"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ProcessingMs int64           `json:"processing_ms" gorm:"not null;default:0"`
}

// TreeNodeRecord 树节点记录，按导入隔离
type TreeNodeRecord struct {
	ID               uint                `json:"-" gorm:"primarykey;autoIncrement"`
	ImportID         string              `json:"import_id" gorm:"type:uuid;not null;index:idx_node_import_code,unique"`
	Code             string              `json:"code" gorm:"type:varchar(255);not null;index:idx_node_import_code,unique"`
	ParentCode       string              `json:"parent_code,omitempty" gorm:"type:varchar(255);index"`
	Level            int                 `json:"level" gorm:"not null;index"`
	Position         int                 `json:"position" gorm:"not null;default:0"`
	Path             pq.StringArray      `json:"path" gorm:"type:text[]"`
	ChildCodes       pq.StringArray      `json:"child_codes" gorm:"type:text[]"`
	Summary          string              `json:"summary,omitempty" gorm:"type:text"`
	Unit             string              `json:"unit,omitempty" gorm:"type:varchar(32)"`
	UnitPrice        decimal.NullDecimal `json:"unit_price" gorm:"type:decimal(20,4)"`
	TypeCode         *int                `json:"type_code,omitempty"`
	IsChapter        bool                `json:"is_chapter" gorm:"not null;default:false"`
	IsItem           bool                `json:"is_item" gorm:"not null;default:false"`
	SubtreeAmount    decimal.Decimal     `json:"subtree_amount" gorm:"type:decimal(20,4);not null;default:0"`
	MeasurementTotal decimal.Decimal     `json:"measurement_total" gorm:"type:decimal(20,4);not null;default:0"`
	Measurements     datatypes.JSON      `json:"measurements,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time           `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名和schema
func (ImportRecord) TableName() string {
	return "bc3tree.import_records"
}

// TableName 指定表名和schema
func (TreeNodeRecord) TableName() string {
	return "bc3tree.tree_nodes"
}

// NodeRecordsFromTree 按树的插入顺序生成节点记录
func NodeRecordsFromTree(importID string, tree *model.Tree) ([]*TreeNodeRecord, error) {
	records := make([]*TreeNodeRecord, 0, len(tree.Codes))
	for i, code := range tree.Codes {
		node := tree.Nodes[code]
		rec, err := NodeRecordFromNode(importID, node)
		if err != nil {
			return nil, err
		}
		rec.Position = i
		records = append(records, rec)
	}
	return records, nil
}

// NodeRecordFromNode 将单个节点转换为记录
func NodeRecordFromNode(importID string, node *model.Node) (*TreeNodeRecord, error) {
	c := node.Concept
	rec := &TreeNodeRecord{
		ImportID:         importID,
		Code:             c.Code,
		ParentCode:       node.ParentCode,
		Level:            node.Level,
		Path:             pq.StringArray(append([]string{}, node.Path...)),
		ChildCodes:       pq.StringArray(append([]string{}, node.ChildCodes...)),
		Summary:          c.Summary,
		Unit:             c.Unit,
		UnitPrice:        c.UnitPrice,
		TypeCode:         c.TypeCode,
		IsChapter:        c.IsChapter,
		IsItem:           c.IsItem,
		SubtreeAmount:    node.SubtreeAmount,
		MeasurementTotal: node.MeasurementTotal,
	}
	if len(node.Measurements) > 0 {
		data, err := json.Marshal(node.Measurements)
		if err != nil {
			return nil, fmt.Errorf("序列化节点 %s 的测量失败: %w", c.Code, err)
		}
		rec.Measurements = datatypes.JSON(data)
	}
	return rec, nil
}

// ToNode 还原为树节点，派生统计重新计算
func (r *TreeNodeRecord) ToNode() (*model.Node, error) {
	concept := &model.Concept{
		Code:      r.Code,
		Unit:      r.Unit,
		Summary:   r.Summary,
		UnitPrice: r.UnitPrice,
		TypeCode:  r.TypeCode,
		IsChapter: r.IsChapter,
		IsItem:    r.IsItem,
	}
	node := model.NewNode(concept)
	node.ParentCode = r.ParentCode
	node.Level = r.Level
	node.Path = append(node.Path, r.Path...)
	node.ChildCodes = append(node.ChildCodes, r.ChildCodes...)
	if len(r.Measurements) > 0 {
		if err := json.Unmarshal(r.Measurements, &node.Measurements); err != nil {
			return nil, fmt.Errorf("反序列化节点 %s 的测量失败: %w", r.Code, err)
		}
	}
	node.RecomputeStats()
	node.SubtreeAmount = r.SubtreeAmount
	return node, nil
}

// TreeFromRecords 由节点记录重建树，记录须按 Position 排序
func TreeFromRecords(records []*TreeNodeRecord) (*model.Tree, error) {
	tree := model.NewTree()
	for _, rec := range records {
		node, err := rec.ToNode()
		if err != nil {
			return nil, err
		}
		if !tree.AddNode(node) {
			continue
		}
		if node.IsRoot() {
			tree.Roots = append(tree.Roots, node.Code())
			tree.TotalBudget = tree.TotalBudget.Add(node.SubtreeAmount)
		}
	}
	tree.RebuildLevelIndex()
	return tree, nil
}

// MarshalJSONField 序列化为jsonb字段
func MarshalJSONField(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

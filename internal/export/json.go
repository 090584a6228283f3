package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/freedkr/bc3tree/internal/model"
)

// DocumentMetadata 导出文档的汇总信息
type DocumentMetadata struct {
	TotalNodes  int             `json:"total_nodes"`
	MaxLevel    int             `json:"max_level"`
	TotalBudget decimal.Decimal `json:"total_budget"`
	File        *model.Metadata `json:"file,omitempty"`
}

// NodeDocument 嵌套导出的节点
type NodeDocument struct {
	Code             string               `json:"code"`
	Summary          string               `json:"summary"`
	Unit             string               `json:"unit"`
	Price            decimal.NullDecimal  `json:"price"`
	Level            int                  `json:"level"`
	Type             *int                 `json:"type"`
	IsChapter        bool                 `json:"is_chapter"`
	IsItem           bool                 `json:"is_item"`
	ChildCount       int                  `json:"child_count"`
	MeasurementCount int                  `json:"measurement_count"`
	MeasurementTotal decimal.Decimal      `json:"measurement_total"`
	OwnAmount        decimal.Decimal      `json:"own_amount"`
	SubtreeAmount    decimal.Decimal      `json:"subtree_amount"`
	Path             string               `json:"path"`
	Measurements     []*model.Measurement `json:"measurements"`
	Children         []*NodeDocument      `json:"children"`
}

// TreeDocument 嵌套导出文档
type TreeDocument struct {
	Metadata DocumentMetadata `json:"metadata"`
	Tree     []*NodeDocument  `json:"tree"`
}

func newNodeDocument(node *model.Node) *NodeDocument {
	c := node.Concept
	measurements := node.Measurements
	if measurements == nil {
		measurements = make([]*model.Measurement, 0)
	}
	return &NodeDocument{
		Code:             c.Code,
		Summary:          c.Summary,
		Unit:             c.Unit,
		Price:            c.UnitPrice,
		Level:            node.Level,
		Type:             c.TypeCode,
		IsChapter:        c.IsChapter,
		IsItem:           c.IsItem,
		ChildCount:       node.ChildCount,
		MeasurementCount: node.MeasurementCount,
		MeasurementTotal: node.MeasurementTotal,
		OwnAmount:        node.OwnAmount,
		SubtreeAmount:    node.SubtreeAmount,
		Path:             strings.Join(node.Path, model.PathSeparator),
		Measurements:     measurements,
		Children:         make([]*NodeDocument, 0),
	}
}

// BuildDocument 按根列表和子节点顺序组装嵌套文档，不使用递归
func BuildDocument(tree *model.Tree, meta *model.Metadata) *TreeDocument {
	doc := &TreeDocument{
		Metadata: DocumentMetadata{
			TotalNodes:  tree.TotalNodes,
			MaxLevel:    tree.MaxLevel,
			TotalBudget: tree.TotalBudget,
			File:        meta,
		},
		Tree: make([]*NodeDocument, 0, len(tree.Roots)),
	}

	docs := make(map[string]*NodeDocument, len(tree.Nodes))
	for code, node := range tree.Nodes {
		docs[code] = newNodeDocument(node)
	}
	for code, node := range tree.Nodes {
		parent := docs[code]
		for _, child := range node.ChildCodes {
			if d, ok := docs[child]; ok {
				parent.Children = append(parent.Children, d)
			}
		}
	}
	for _, root := range tree.Roots {
		if d, ok := docs[root]; ok {
			doc.Tree = append(doc.Tree, d)
		}
	}
	return doc
}

// WriteJSON 写出嵌套JSON
func WriteJSON(w io.Writer, doc *TreeDocument, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("写出JSON失败: %w", err)
	}
	return nil
}

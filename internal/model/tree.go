package model

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PathSeparator 路径字符串分隔符
const PathSeparator = " > "

// Node 树节点，包装一个概念及其结构状态
//
// ParentCode、Level、Path、ChildCodes 由树构建器在构建期间独占写入，构建完成后只读。
type Node struct {
	Concept      *Concept       `json:"concept"`
	ParentCode   string         `json:"parent_code,omitempty"`
	ChildCodes   []string       `json:"child_codes"`
	Level        int            `json:"level"`
	Path         []string       `json:"path"`
	Measurements []*Measurement `json:"measurements"`

	HasChildren      bool            `json:"has_children"`
	ChildCount       int             `json:"child_count"`
	MeasurementCount int             `json:"measurement_count"`
	OwnAmount        decimal.Decimal `json:"own_amount"`
	SubtreeAmount    decimal.Decimal `json:"subtree_amount"`
	MeasurementTotal decimal.Decimal `json:"measurement_total"`
}

// NewNode 创建根状态的节点
func NewNode(concept *Concept) *Node {
	return &Node{
		Concept:    concept,
		ChildCodes: make([]string, 0),
		Path:       make([]string, 0),
	}
}

// Code 节点编码
func (n *Node) Code() string {
	return n.Concept.Code
}

// IsRoot 没有父节点即为根
func (n *Node) IsRoot() bool {
	return n.ParentCode == ""
}

// AddChild 追加子编码（去重），返回是否新增
func (n *Node) AddChild(code string) bool {
	for _, c := range n.ChildCodes {
		if c == code {
			return false
		}
	}
	n.ChildCodes = append(n.ChildCodes, code)
	return true
}

// RemoveChild 移除子编码
func (n *Node) RemoveChild(code string) {
	for i, c := range n.ChildCodes {
		if c == code {
			n.ChildCodes = append(n.ChildCodes[:i], n.ChildCodes[i+1:]...)
			return
		}
	}
}

// AttachMeasurement 挂载测量并刷新派生统计
func (n *Node) AttachMeasurement(m *Measurement) {
	n.Measurements = append(n.Measurements, m)
	n.RecomputeStats()
}

// RecomputeStats 重新计算节点派生统计（不含子树金额）
func (n *Node) RecomputeStats() {
	n.ChildCount = len(n.ChildCodes)
	n.HasChildren = n.ChildCount > 0
	n.MeasurementCount = len(n.Measurements)

	n.OwnAmount = decimal.Zero
	if n.Concept != nil && n.Concept.UnitPrice.Valid {
		n.OwnAmount = n.Concept.UnitPrice.Decimal
	}

	total := decimal.Zero
	for _, m := range n.Measurements {
		total = total.Add(m.Total())
	}
	n.MeasurementTotal = total
}

// RoutePath 从根到本节点的编码路径（含自身）
func (n *Node) RoutePath() []string {
	route := make([]string, 0, len(n.Path)+1)
	route = append(route, n.Path...)
	return append(route, n.Code())
}

// PathString 路径字符串，形如 "A > B > C"
func (n *Node) PathString() string {
	return strings.Join(n.RoutePath(), PathSeparator)
}

// Tree 概念层级树
type Tree struct {
	Nodes        map[string]*Node `json:"nodes"`
	Codes        []string         `json:"codes"`
	Roots        []string         `json:"roots"`
	NodesByLevel map[int][]string `json:"nodes_by_level"`
	TotalNodes   int              `json:"total_nodes"`
	MaxLevel     int              `json:"max_level"`
	TotalBudget  decimal.Decimal  `json:"total_budget"`
}

// NewTree 创建空树
func NewTree() *Tree {
	return &Tree{
		Nodes:        make(map[string]*Node),
		Codes:        make([]string, 0),
		Roots:        make([]string, 0),
		NodesByLevel: make(map[int][]string),
	}
}

// AddNode 按插入顺序添加节点，编码已存在时返回false
func (t *Tree) AddNode(node *Node) bool {
	code := node.Code()
	if _, exists := t.Nodes[code]; exists {
		return false
	}
	t.Nodes[code] = node
	t.Codes = append(t.Codes, code)
	return true
}

// Node 按编码查找节点
func (t *Tree) Node(code string) (*Node, bool) {
	n, ok := t.Nodes[code]
	return n, ok
}

// Has 是否包含编码
func (t *Tree) Has(code string) bool {
	_, ok := t.Nodes[code]
	return ok
}

// IsEmpty 是否为空树
func (t *Tree) IsEmpty() bool {
	return len(t.Nodes) == 0
}

// RebuildLevelIndex 根据节点最终层级重建层级索引，同层保持插入顺序
func (t *Tree) RebuildLevelIndex() {
	t.NodesByLevel = make(map[int][]string)
	t.MaxLevel = 0
	for _, code := range t.Codes {
		node := t.Nodes[code]
		t.NodesByLevel[node.Level] = append(t.NodesByLevel[node.Level], code)
		if node.Level > t.MaxLevel {
			t.MaxLevel = node.Level
		}
	}
	t.TotalNodes = len(t.Nodes)
}

// Levels 升序返回存在的层级
func (t *Tree) Levels() []int {
	levels := make([]int, 0, len(t.NodesByLevel))
	for level := range t.NodesByLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Package navigator 提供对已构建概念树的只读查询
package navigator

import (
	"github.com/freedkr/bc3tree/internal/model"
)

// Navigator 概念树查询器，所有方法都不修改树
//
// 树必须无环（由构建器保证，校验器复核），Descendants 的访问集合仅用于防止重复输出。
type Navigator struct {
	tree *model.Tree
}

// New 创建查询器
func New(tree *model.Tree) *Navigator {
	if tree == nil {
		tree = model.NewTree()
	}
	return &Navigator{tree: tree}
}

// Tree 底层树
func (n *Navigator) Tree() *model.Tree {
	return n.tree
}

// Find 按编码查找节点
func (n *Navigator) Find(code string) (*model.Node, bool) {
	return n.tree.Node(code)
}

// Roots 根节点，按根列表顺序
func (n *Navigator) Roots() []*model.Node {
	return n.nodes(n.tree.Roots)
}

// Children 直接子节点，编码不存在时为空
func (n *Navigator) Children(code string) []*model.Node {
	node, ok := n.tree.Node(code)
	if !ok {
		return []*model.Node{}
	}
	return n.nodes(node.ChildCodes)
}

// Descendants 全部后代，广度优先顺序，不含自身
func (n *Navigator) Descendants(code string) []*model.Node {
	result := make([]*model.Node, 0)
	root, ok := n.tree.Node(code)
	if !ok {
		return result
	}

	visited := map[string]bool{code: true}
	queue := append([]string(nil), root.ChildCodes...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		node, ok := n.tree.Node(current)
		if !ok {
			continue
		}
		result = append(result, node)
		queue = append(queue, node.ChildCodes...)
	}
	return result
}

// Walk 从各根节点深度优先先序遍历，visit 返回false时跳过该节点的子树
func (n *Navigator) Walk(visit func(node *model.Node) bool) {
	visited := make(map[string]bool, len(n.tree.Nodes))
	for _, root := range n.tree.Roots {
		stack := []string{root}
		for len(stack) > 0 {
			code := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			node, ok := n.tree.Nodes[code]
			if !ok || visited[code] {
				continue
			}
			visited[code] = true
			if !visit(node) {
				continue
			}
			for i := len(node.ChildCodes) - 1; i >= 0; i-- {
				stack = append(stack, node.ChildCodes[i])
			}
		}
	}
}

// PathTo 从根到节点的节点序列（含自身），编码不存在时为空
func (n *Navigator) PathTo(code string) []*model.Node {
	node, ok := n.tree.Node(code)
	if !ok {
		return []*model.Node{}
	}
	return n.nodes(node.RoutePath())
}

// AtLevel 指定层级的节点
func (n *Navigator) AtLevel(level int) []*model.Node {
	return n.nodes(n.tree.NodesByLevel[level])
}

// ByType 满足谓词的节点，按插入顺序
func (n *Navigator) ByType(match func(*model.Concept) bool) []*model.Node {
	result := make([]*model.Node, 0)
	for _, code := range n.tree.Codes {
		node := n.tree.Nodes[code]
		if match(node.Concept) {
			result = append(result, node)
		}
	}
	return result
}

// ByTypeCode 类型编码等于 typeCode 的节点
func (n *Navigator) ByTypeCode(typeCode int) []*model.Node {
	return n.ByType(func(c *model.Concept) bool {
		return c.TypeCode != nil && *c.TypeCode == typeCode
	})
}

// Chapters 章节节点
func (n *Navigator) Chapters() []*model.Node {
	return n.ByType(func(c *model.Concept) bool { return c.IsChapter })
}

// Items 条目节点
func (n *Navigator) Items() []*model.Node {
	return n.ByType(func(c *model.Concept) bool { return c.IsItem })
}

// WithMeasurements 至少有一条测量的节点
func (n *Navigator) WithMeasurements() []*model.Node {
	result := make([]*model.Node, 0)
	for _, code := range n.tree.Codes {
		node := n.tree.Nodes[code]
		if len(node.Measurements) > 0 {
			result = append(result, node)
		}
	}
	return result
}

// Leaves 没有子节点的节点
func (n *Navigator) Leaves() []*model.Node {
	result := make([]*model.Node, 0)
	for _, code := range n.tree.Codes {
		node := n.tree.Nodes[code]
		if len(node.ChildCodes) == 0 {
			result = append(result, node)
		}
	}
	return result
}

// MeasurementsByChapter 章节自身及全部后代的测量
func (n *Navigator) MeasurementsByChapter(code string) []*model.Measurement {
	result := make([]*model.Measurement, 0)
	node, ok := n.tree.Node(code)
	if !ok {
		return result
	}
	result = append(result, node.Measurements...)
	for _, d := range n.Descendants(code) {
		result = append(result, d.Measurements...)
	}
	return result
}

// Statistics 树统计
type Statistics struct {
	TotalNodes            int         `json:"total_nodes"`
	Roots                 int         `json:"roots"`
	Relations             int         `json:"relations"`
	MaxLevel              int         `json:"max_level"`
	Leaves                int         `json:"leaves"`
	Chapters              int         `json:"chapters"`
	Items                 int         `json:"items"`
	NodesWithMeasurements int         `json:"nodes_with_measurements"`
	TotalMeasurements     int         `json:"total_measurements"`
	NodesPerLevel         map[int]int `json:"nodes_per_level"`
}

// Statistics 汇总节点、关系和测量数量
func (n *Navigator) Statistics() *Statistics {
	stats := &Statistics{
		TotalNodes:    len(n.tree.Nodes),
		Roots:         len(n.tree.Roots),
		MaxLevel:      n.tree.MaxLevel,
		NodesPerLevel: make(map[int]int),
	}
	for _, node := range n.tree.Nodes {
		if node.ParentCode != "" {
			stats.Relations++
		}
		if len(node.ChildCodes) == 0 {
			stats.Leaves++
		}
		if node.Concept.IsChapter {
			stats.Chapters++
		}
		if node.Concept.IsItem {
			stats.Items++
		}
		if len(node.Measurements) > 0 {
			stats.NodesWithMeasurements++
			stats.TotalMeasurements += len(node.Measurements)
		}
	}
	for level, codes := range n.tree.NodesByLevel {
		stats.NodesPerLevel[level] = len(codes)
	}
	return stats
}

func (n *Navigator) nodes(codes []string) []*model.Node {
	result := make([]*model.Node, 0, len(codes))
	for _, code := range codes {
		if node, ok := n.tree.Nodes[code]; ok {
			result = append(result, node)
		}
	}
	return result
}

// Codes 提取节点编码
func Codes(nodes []*model.Node) []string {
	codes := make([]string, 0, len(nodes))
	for _, node := range nodes {
		codes = append(codes, node.Code())
	}
	return codes
}

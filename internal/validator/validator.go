// Package validator 对构建完成的概念树做只读结构检查
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/freedkr/bc3tree/internal/model"
)

// IssueKind 问题类型
type IssueKind string

const (
	IssueCycle          IssueKind = "cycle"
	IssueOrphan         IssueKind = "orphan"
	IssueLevelMismatch  IssueKind = "level_mismatch"
	IssuePathMismatch   IssueKind = "path_mismatch"
	IssueDanglingParent IssueKind = "dangling_parent"
	IssueDanglingChild  IssueKind = "dangling_child"
	IssueUnreachable    IssueKind = "unreachable"
	IssueRootLevel      IssueKind = "root_level"
)

// Issue 单个结构问题
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Path     []string  `json:"path,omitempty"`
	Expected int       `json:"expected,omitempty"`
	Actual   int       `json:"actual,omitempty"`
}

// Stats 校验统计
type Stats struct {
	TotalNodes      int `json:"total_nodes"`
	Roots           int `json:"roots"`
	MaxLevel        int `json:"max_level"`
	Cycles          int `json:"cycles"`
	Orphans         int `json:"orphans"`
	LevelMismatches int `json:"level_mismatches"`
	PathMismatches  int `json:"path_mismatches"`
	Unreachable     int `json:"unreachable"`
	Dangling        int `json:"dangling"`
}

// Report 校验报告
type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Stats    Stats   `json:"stats"`
}

// ErrorList 把错误项转换为层级错误列表
func (r *Report) ErrorList() *model.ErrorList {
	list := model.NewErrorList()
	for _, issue := range r.Errors {
		code2 := ""
		if len(issue.Path) > 1 {
			code2 = issue.Path[len(issue.Path)-2]
		}
		err := model.NewHierarchyError(issue.Code, code2, string(issue.Kind), issue.Message, issue.Actual)
		err.Path = issue.Path
		list.Add(err)
	}
	return list
}

func (r *Report) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
}

func (r *Report) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

// Validate 检查环、孤儿节点、层级与路径一致性，不修改树
func Validate(tree *model.Tree) *Report {
	report := &Report{
		Errors:   make([]Issue, 0),
		Warnings: make([]Issue, 0),
	}
	if tree == nil {
		report.Valid = true
		return report
	}

	report.Stats.TotalNodes = len(tree.Nodes)
	report.Stats.Roots = len(tree.Roots)
	report.Stats.MaxLevel = tree.MaxLevel

	detectCycles(tree, report)
	checkReachability(tree, visitedFromRoots(tree), report)
	checkOrphans(tree, report)
	checkLevels(tree, report)

	report.Valid = len(report.Errors) == 0
	return report
}

type dfsFrame struct {
	code string
	next int
}

// detectCycles 从每个根做迭代深度优先遍历，回到当前路径上的节点即为环
func detectCycles(tree *model.Tree, report *Report) {
	visited := make(map[string]bool, len(tree.Nodes))
	reported := make(map[string]bool)

	walk := func(start string) {
		if visited[start] {
			return
		}
		if _, ok := tree.Nodes[start]; !ok {
			return
		}
		onPath := map[string]int{start: 0}
		path := []string{start}
		stack := []*dfsFrame{{code: start}}
		visited[start] = true

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			node := tree.Nodes[top.code]
			if top.next >= len(node.ChildCodes) {
				stack = stack[:len(stack)-1]
				delete(onPath, top.code)
				path = path[:len(path)-1]
				continue
			}

			childCode := node.ChildCodes[top.next]
			top.next++
			if idx, ok := onPath[childCode]; ok {
				cycle := append(append([]string{}, path[idx:]...), childCode)
				key := strings.Join(cycle, "|")
				if !reported[key] {
					reported[key] = true
					report.Stats.Cycles++
					report.addError(Issue{
						Kind:    IssueCycle,
						Code:    childCode,
						Message: fmt.Sprintf("检测到环: %s", strings.Join(cycle, model.PathSeparator)),
						Path:    cycle,
						Actual:  len(cycle) - 1,
					})
				}
				continue
			}
			if visited[childCode] {
				continue
			}
			if _, ok := tree.Nodes[childCode]; !ok {
				report.Stats.Dangling++
				report.addWarning(Issue{
					Kind:    IssueDanglingChild,
					Code:    childCode,
					Message: fmt.Sprintf("节点 %s 引用了不存在的子节点 %s", top.code, childCode),
				})
				continue
			}

			visited[childCode] = true
			onPath[childCode] = len(path)
			path = append(path, childCode)
			stack = append(stack, &dfsFrame{code: childCode})
		}
	}

	for _, root := range tree.Roots {
		walk(root)
	}
	// 从根无法到达的部分也要检查环
	for _, code := range orderedCodes(tree) {
		walk(code)
	}
}

// visitedFromRoots 从根出发可达的节点集合
func visitedFromRoots(tree *model.Tree) map[string]bool {
	reached := make(map[string]bool, len(tree.Nodes))
	queue := make([]string, 0, len(tree.Roots))
	for _, root := range tree.Roots {
		if _, ok := tree.Nodes[root]; ok && !reached[root] {
			reached[root] = true
			queue = append(queue, root)
		}
	}
	for len(queue) > 0 {
		code := queue[0]
		queue = queue[1:]
		for _, child := range tree.Nodes[code].ChildCodes {
			if _, ok := tree.Nodes[child]; ok && !reached[child] {
				reached[child] = true
				queue = append(queue, child)
			}
		}
	}
	return reached
}

// checkReachability 所有节点都应能从根到达
func checkReachability(tree *model.Tree, reached map[string]bool, report *Report) {
	for _, code := range orderedCodes(tree) {
		if reached[code] {
			continue
		}
		report.Stats.Unreachable++
		report.addWarning(Issue{
			Kind:    IssueUnreachable,
			Code:    code,
			Message: fmt.Sprintf("节点 %s 无法从根节点到达", code),
		})
	}
}

// checkOrphans 既无父节点也无子节点且不在根列表中的节点
func checkOrphans(tree *model.Tree, report *Report) {
	roots := make(map[string]bool, len(tree.Roots))
	for _, code := range tree.Roots {
		roots[code] = true
	}
	for _, code := range orderedCodes(tree) {
		node := tree.Nodes[code]
		if node.ParentCode != "" || len(node.ChildCodes) > 0 || roots[code] {
			continue
		}
		report.Stats.Orphans++
		report.addWarning(Issue{
			Kind:    IssueOrphan,
			Code:    code,
			Message: fmt.Sprintf("孤儿节点 %s 不在根列表中", code),
		})
	}
}

// checkLevels 非根节点层级等于父层级加一，路径等于父路径加父编码
func checkLevels(tree *model.Tree, report *Report) {
	for _, code := range orderedCodes(tree) {
		node := tree.Nodes[code]
		if node.IsRoot() {
			if node.Level != 0 {
				report.Stats.LevelMismatches++
				report.addWarning(Issue{
					Kind:     IssueRootLevel,
					Code:     code,
					Message:  fmt.Sprintf("根节点 %s 的层级为 %d", code, node.Level),
					Expected: 0,
					Actual:   node.Level,
				})
			}
			continue
		}

		parent, ok := tree.Nodes[node.ParentCode]
		if !ok {
			report.Stats.Dangling++
			report.addWarning(Issue{
				Kind:    IssueDanglingParent,
				Code:    code,
				Message: fmt.Sprintf("节点 %s 的父节点 %s 不存在", code, node.ParentCode),
			})
			continue
		}

		if expected := parent.Level + 1; node.Level != expected {
			report.Stats.LevelMismatches++
			report.addWarning(Issue{
				Kind:     IssueLevelMismatch,
				Code:     code,
				Message:  fmt.Sprintf("节点 %s 层级不一致: 实际 %d, 期望 %d", code, node.Level, expected),
				Expected: expected,
				Actual:   node.Level,
			})
		}

		if !samePath(node.Path, parent.RoutePath()) {
			report.Stats.PathMismatches++
			report.addWarning(Issue{
				Kind:    IssuePathMismatch,
				Code:    code,
				Message: fmt.Sprintf("节点 %s 路径与父节点 %s 不一致", code, parent.Code()),
				Path:    node.Path,
			})
		}
	}
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// orderedCodes 按插入顺序遍历，手工构造的树没有 Codes 时按节点表补齐
func orderedCodes(tree *model.Tree) []string {
	if len(tree.Codes) == len(tree.Nodes) {
		return tree.Codes
	}
	seen := make(map[string]bool, len(tree.Nodes))
	codes := make([]string, 0, len(tree.Nodes))
	for _, code := range tree.Codes {
		if _, ok := tree.Nodes[code]; ok && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	rest := make([]string, 0)
	for code := range tree.Nodes {
		if !seen[code] {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	return append(codes, rest...)
}

package validator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/builder"
	"github.com/freedkr/bc3tree/internal/model"
)

// handTree 手工构造树，edges 为 父->子，levels 直接写入节点
func handTree(codes []string, edges [][2]string, levels map[string]int, roots []string) *model.Tree {
	tree := model.NewTree()
	for _, code := range codes {
		tree.AddNode(model.NewNode(&model.Concept{Code: code}))
	}
	for _, e := range edges {
		tree.Nodes[e[0]].AddChild(e[1])
		tree.Nodes[e[1]].ParentCode = e[0]
	}
	for code, level := range levels {
		tree.Nodes[code].Level = level
	}
	// 按层级补齐路径
	for _, code := range codes {
		node := tree.Nodes[code]
		path := []string{}
		seen := map[string]bool{}
		for p := node.ParentCode; p != "" && !seen[p]; p = tree.Nodes[p].ParentCode {
			seen[p] = true
			path = append([]string{p}, path...)
		}
		node.Path = path
	}
	tree.Roots = roots
	tree.RebuildLevelIndex()
	return tree
}

func TestValidate_BuiltTreeIsValid(t *testing.T) {
	concepts := []*model.Concept{{Code: "A"}, {Code: "B"}, {Code: "C"}, {Code: "D"}}
	decomps := []*model.Decomposition{
		{ParentCode: "A", Components: []model.Component{{Code: "B"}, {Code: "C"}}},
		{ParentCode: "B", Components: []model.Component{{Code: "D"}}},
		{ParentCode: "D", Components: []model.Component{{Code: "A"}}},
	}
	result, err := builder.NewTreeBuilder(nil).Build(context.Background(), &builder.BuildInput{
		Concepts:       concepts,
		Decompositions: decomps,
	}, nil)
	require.NoError(t, err)

	report := Validate(result.Tree)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 4, report.Stats.TotalNodes)
	assert.Equal(t, 1, report.Stats.Roots)
	assert.Equal(t, 2, report.Stats.MaxLevel)
	assert.False(t, report.ErrorList().HasError())
}

func TestValidate_CycleDetected(t *testing.T) {
	tree := handTree([]string{"R", "A", "B"}, [][2]string{{"R", "A"}, {"A", "B"}}, map[string]int{"A": 1, "B": 2}, []string{"R"})
	// B -> A 构成环
	tree.Nodes["B"].AddChild("A")

	report := Validate(tree)
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	issue := report.Errors[0]
	assert.Equal(t, IssueCycle, issue.Kind)
	assert.Equal(t, []string{"A", "B", "A"}, issue.Path)
	assert.Equal(t, 1, report.Stats.Cycles)

	list := report.ErrorList()
	require.Equal(t, 1, list.Count())
	assert.True(t, model.IsErrorType(list.Errors[0], model.ErrCodeHierarchy))
}

func TestValidate_UnreachableCycle(t *testing.T) {
	tree := handTree([]string{"R", "X", "Y"}, nil, nil, []string{"R"})
	tree.Nodes["X"].AddChild("Y")
	tree.Nodes["Y"].ParentCode = "X"
	tree.Nodes["Y"].AddChild("X")
	tree.Nodes["X"].ParentCode = "Y"
	tree.Nodes["Y"].Level = 1

	report := Validate(tree)
	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.Stats.Cycles)
	assert.Equal(t, 2, report.Stats.Unreachable)
}

func TestValidate_OrphanNotInRoots(t *testing.T) {
	tree := handTree([]string{"R", "A", "LOST"}, [][2]string{{"R", "A"}}, map[string]int{"A": 1}, []string{"R"})

	report := Validate(tree)
	assert.True(t, report.Valid, "孤儿只产生警告")
	assert.Equal(t, 1, report.Stats.Orphans)
	assert.Equal(t, 1, report.Stats.Unreachable)

	kinds := map[IssueKind]string{}
	for _, w := range report.Warnings {
		kinds[w.Kind] = w.Code
	}
	assert.Equal(t, "LOST", kinds[IssueOrphan])
	assert.Equal(t, "LOST", kinds[IssueUnreachable])
}

func TestValidate_LevelMismatch(t *testing.T) {
	tree := handTree([]string{"R", "A", "B"}, [][2]string{{"R", "A"}, {"A", "B"}}, map[string]int{"A": 1, "B": 5}, []string{"R"})
	tree.Nodes["R"].Level = 0

	report := Validate(tree)
	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	w := report.Warnings[0]
	assert.Equal(t, IssueLevelMismatch, w.Kind)
	assert.Equal(t, "B", w.Code)
	assert.Equal(t, 2, w.Expected)
	assert.Equal(t, 5, w.Actual)
}

func TestValidate_PathMismatchAndDanglingParent(t *testing.T) {
	tree := handTree([]string{"R", "A", "Z"}, [][2]string{{"R", "A"}}, map[string]int{"A": 1}, []string{"R", "Z"})
	tree.Nodes["A"].Path = []string{"OTHER"}
	tree.Nodes["Z"].ParentCode = "GONE"
	tree.Nodes["Z"].Level = 0

	report := Validate(tree)
	assert.Equal(t, 1, report.Stats.PathMismatches)
	assert.Equal(t, 1, report.Stats.Dangling)
}

func TestValidate_RootLevel(t *testing.T) {
	tree := handTree([]string{"R"}, nil, map[string]int{"R": 2}, []string{"R"})

	report := Validate(tree)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, IssueRootLevel, report.Warnings[0].Kind)
}

func TestValidate_EmptyAndNil(t *testing.T) {
	assert.True(t, Validate(nil).Valid)
	report := Validate(model.NewTree())
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Stats.TotalNodes)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	tree := handTree([]string{"R", "A"}, [][2]string{{"R", "A"}}, map[string]int{"A": 3}, []string{"R"})
	tree.Nodes["A"].SubtreeAmount = decimal.NewFromInt(7)

	Validate(tree)
	assert.Equal(t, 3, tree.Nodes["A"].Level)
	assert.Equal(t, []string{"A"}, tree.Nodes["R"].ChildCodes)
	assert.True(t, tree.Nodes["A"].SubtreeAmount.Equal(decimal.NewFromInt(7)))
}

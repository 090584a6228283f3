// Package builder 实现概念层级树的构建
package builder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freedkr/bc3tree/internal/model"
)

// 诊断类别
const (
	DiagDuplicateConcept    = "duplicate_concept"
	DiagMissingEndpoint     = "missing_endpoint"
	DiagRejectedSelf        = "rejected_self"
	DiagRejectedCycle       = "rejected_cycle"
	DiagRejectedConflict    = "rejected_conflict"
	DiagOrphanRoot          = "orphan_root"
	DiagMeasurementNotFound = "measurement_not_found"
	DiagMeasurementMismatch = "measurement_context_mismatch"
)

// ConflictPolicy 同一子节点存在多个候选父节点时的提交顺序
type ConflictPolicy string

const (
	// PolicyExplicitFirst 显式分解关系先于推断关系提交
	PolicyExplicitFirst ConflictPolicy = "explicit_first"
	// PolicyInferredFirst 推断关系先于显式关系提交
	PolicyInferredFirst ConflictPolicy = "inferred_first"
)

// TreeBuilderImpl 树构建器实现
//
// 同一实例不可并发调用 Build，候选集合在每次调用开始时重建。
type TreeBuilderImpl struct {
	config   *BuilderConfig
	inferrer codeInferrer
}

// BuilderConfig 构建器配置
type BuilderConfig struct {
	EnableCodeInference bool           `yaml:"enable_code_inference" json:"enable_code_inference"`
	HierarchySeparator  string         `yaml:"hierarchy_separator" json:"hierarchy_separator"`
	MarkerChar          string         `yaml:"marker_char" json:"marker_char"`
	ConflictPolicy      ConflictPolicy `yaml:"conflict_policy" json:"conflict_policy"`
}

// DefaultBuilderConfig 默认配置
func DefaultBuilderConfig() *BuilderConfig {
	return &BuilderConfig{
		EnableCodeInference: true,
		HierarchySeparator:  ".",
		MarkerChar:          "#",
		ConflictPolicy:      PolicyExplicitFirst,
	}
}

// NewTreeBuilder 创建树构建器
func NewTreeBuilder(config *BuilderConfig) *TreeBuilderImpl {
	if config == nil {
		config = DefaultBuilderConfig()
	} else {
		merged := *config
		if merged.HierarchySeparator == "" {
			merged.HierarchySeparator = "."
		}
		if merged.MarkerChar == "" {
			merged.MarkerChar = "#"
		}
		if merged.ConflictPolicy == "" {
			merged.ConflictPolicy = PolicyExplicitFirst
		}
		config = &merged
	}

	return &TreeBuilderImpl{
		config:   config,
		inferrer: codeInferrer{separator: config.HierarchySeparator, marker: config.MarkerChar},
	}
}

// BuildInput 单个文件的构建输入
type BuildInput struct {
	Concepts       []*model.Concept
	Decompositions []*model.Decomposition
	Measurements   []*model.Measurement
}

// InputFromParseResult 从解析结果取构建输入
func InputFromParseResult(result *model.ParseResult) *BuildInput {
	return &BuildInput{
		Concepts:       result.Concepts,
		Decompositions: result.Decompositions,
		Measurements:   result.Measurements,
	}
}

// BuildResult 构建结果
type BuildResult struct {
	Tree       *model.Tree  `json:"tree"`
	Candidates []*Candidate `json:"candidates"`
	Stats      *BuildStats  `json:"stats"`
}

// buildState 单次构建的临时状态
type buildState struct {
	tree       *model.Tree
	candidates *candidateSet
	stats      *BuildStats
	diag       *model.Diagnostics
}

// Build 构建概念层级树，只有上下文取消会返回错误
func (b *TreeBuilderImpl) Build(ctx context.Context, input *BuildInput, diag *model.Diagnostics) (*BuildResult, error) {
	start := time.Now()
	if input == nil {
		input = &BuildInput{}
	}
	if diag == nil {
		diag = model.NewDiagnostics(nil)
	}

	st := &buildState{
		tree:       model.NewTree(),
		candidates: newCandidateSet(),
		stats:      &BuildStats{},
		diag:       diag,
	}

	// 第一步：创建节点
	if err := b.createNodes(ctx, st, input.Concepts); err != nil {
		return nil, err
	}

	// 第二步：显式分解关系
	if err := b.discoverExplicit(ctx, st, input.Decompositions); err != nil {
		return nil, err
	}

	// 第三步：编码模式推断
	if b.config.EnableCodeInference {
		b.discoverInferred(st)
	}

	// 第四步：预识别根节点
	provisional := make([]string, 0)
	for _, code := range st.tree.Codes {
		if !st.candidates.isChild(code) {
			provisional = append(provisional, code)
		}
	}

	// 第五步：带环检测地提交关系
	if err := b.commitRelations(ctx, st); err != nil {
		return nil, err
	}

	// 第六步：广度优先计算层级和路径
	b.assignLevels(st, provisional)

	// 第七步：重建层级索引
	st.tree.RebuildLevelIndex()

	// 第八步：关联测量
	if err := b.attachMeasurements(ctx, st, input.Measurements); err != nil {
		return nil, err
	}

	// 第九至十一步：节点统计、自底向上汇总、总预算
	b.aggregate(st.tree)

	st.stats.Nodes = st.tree.TotalNodes
	st.stats.Roots = len(st.tree.Roots)
	st.stats.MaxLevel = st.tree.MaxLevel
	st.stats.ProcessingTime = time.Since(start).Milliseconds()

	return &BuildResult{
		Tree:       st.tree,
		Candidates: st.candidates.order,
		Stats:      st.stats,
	}, nil
}

// createNodes 每个概念一个节点，重复编码保留首个
func (b *TreeBuilderImpl) createNodes(ctx context.Context, st *buildState, concepts []*model.Concept) error {
	for _, concept := range concepts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if concept == nil || concept.Code == "" {
			continue
		}
		if !st.tree.AddNode(model.NewNode(concept)) {
			st.stats.DuplicateConcepts++
			st.diag.Warnf(DiagDuplicateConcept, concept.Code, "重复的概念编码 %s，保留首次出现的记录", concept.Code)
		}
	}
	return nil
}

// discoverExplicit 收集分解记录中两端都存在的关系
func (b *TreeBuilderImpl) discoverExplicit(ctx context.Context, st *buildState, decomps []*model.Decomposition) error {
	for _, d := range decomps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		parentExists := st.tree.Has(d.ParentCode)
		for _, comp := range d.Components {
			if !parentExists || !st.tree.Has(comp.Code) {
				st.stats.MissingEndpoints++
				st.diag.Debugf(DiagMissingEndpoint, comp.Code, "分解关系 %s -> %s 的端点不存在，已跳过", d.ParentCode, comp.Code)
				continue
			}
			if st.candidates.add(d.ParentCode, comp.Code, SourceExplicit) {
				st.stats.ExplicitRelations++
			} else {
				st.stats.DedupedRelations++
			}
		}
	}
	return nil
}

// discoverInferred 按编码结构为章节补充候选关系
func (b *TreeBuilderImpl) discoverInferred(st *buildState) {
	concepts := make([]*model.Concept, 0, len(st.tree.Codes))
	for _, code := range st.tree.Codes {
		concepts = append(concepts, st.tree.Nodes[code].Concept)
	}

	for _, rel := range b.inferrer.infer(concepts) {
		if st.candidates.add(rel[0], rel[1], SourceInferred) {
			st.stats.InferredRelations++
		} else {
			st.stats.DedupedRelations++
		}
	}
}

// commitRelations 首个提交的父节点胜出，自引用、成环和冲突的候选被拒绝
func (b *TreeBuilderImpl) commitRelations(ctx context.Context, st *buildState) error {
	for _, c := range st.candidates.ordered(b.config.ConflictPolicy) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.Parent == c.Child {
			st.stats.RejectedSelf++
			st.diag.Warnf(DiagRejectedSelf, c.Child, "拒绝自引用关系 %s -> %s (%s)", c.Parent, c.Child, c.Source)
			continue
		}

		child := st.tree.Nodes[c.Child]
		parent := st.tree.Nodes[c.Parent]
		if child.ParentCode != "" {
			if child.ParentCode != c.Parent {
				st.stats.RejectedConflict++
				st.diag.Warnf(DiagRejectedConflict, c.Child, "拒绝关系 %s -> %s (%s)：已归属于 %s", c.Parent, c.Child, c.Source, child.ParentCode)
			}
			continue
		}
		if b.isAncestor(st.tree, c.Child, c.Parent) {
			st.stats.RejectedCycle++
			st.diag.Warnf(DiagRejectedCycle, c.Child, "拒绝成环关系 %s -> %s (%s)", c.Parent, c.Child, c.Source)
			continue
		}

		child.ParentCode = c.Parent
		parent.AddChild(c.Child)
		st.stats.CommittedRelations++
	}
	return nil
}

// isAncestor 从 code 沿已提交的父节点向上查找 ancestor
func (b *TreeBuilderImpl) isAncestor(tree *model.Tree, ancestor, code string) bool {
	visited := make(map[string]bool)
	current := code
	for current != "" && !visited[current] {
		if current == ancestor {
			return true
		}
		visited[current] = true
		node, ok := tree.Nodes[current]
		if !ok {
			return false
		}
		current = node.ParentCode
	}
	return false
}

// assignLevels 从根节点广度优先传播层级和路径，未到达的节点按孤儿根处理
func (b *TreeBuilderImpl) assignLevels(st *buildState, provisional []string) {
	tree := st.tree
	visited := make(map[string]bool, len(tree.Nodes))

	bfs := func(root string) {
		rootNode := tree.Nodes[root]
		rootNode.Level = 0
		rootNode.Path = make([]string, 0)
		visited[root] = true
		queue := []string{root}

		for len(queue) > 0 {
			code := queue[0]
			queue = queue[1:]
			node := tree.Nodes[code]
			for _, childCode := range node.ChildCodes {
				if visited[childCode] {
					continue
				}
				child, ok := tree.Nodes[childCode]
				if !ok {
					continue
				}
				visited[childCode] = true
				child.Level = node.Level + 1
				child.Path = append(append(make([]string, 0, len(node.Path)+1), node.Path...), code)
				queue = append(queue, childCode)
			}
		}
	}

	roots := make([]string, 0, len(provisional))
	for _, code := range provisional {
		roots = append(roots, code)
		bfs(code)
	}

	// 候选关系全部被拒绝的节点没有父节点，作为孤儿根重新传播
	for _, code := range tree.Codes {
		if visited[code] || tree.Nodes[code].ParentCode != "" {
			continue
		}
		st.stats.OrphanRoots++
		st.diag.Warnf(DiagOrphanRoot, code, "节点 %s 无法从根节点到达，作为孤儿根处理", code)
		roots = append(roots, code)
		bfs(code)
	}

	// 兜底：仍未到达的节点断开父链接
	for _, code := range tree.Codes {
		if visited[code] {
			continue
		}
		node := tree.Nodes[code]
		if parent, ok := tree.Nodes[node.ParentCode]; ok {
			parent.RemoveChild(code)
		}
		node.ParentCode = ""
		st.stats.OrphanRoots++
		st.diag.Warnf(DiagOrphanRoot, code, "节点 %s 父链断开，作为孤儿根处理", code)
		roots = append(roots, code)
		bfs(code)
	}

	tree.Roots = roots
}

// attachMeasurements 按父编码上下文关联测量
func (b *TreeBuilderImpl) attachMeasurements(ctx context.Context, st *buildState, measurements []*model.Measurement) error {
	for _, m := range measurements {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		node, ok := st.tree.Nodes[m.ChildCode]
		if !ok {
			st.stats.MeasurementsNotFound++
			st.diag.Debugf(DiagMeasurementNotFound, m.ChildCode, "测量的概念 %s 不存在", m.ChildCode)
			continue
		}
		if m.HasParent() && m.ParentCode != node.ParentCode {
			st.stats.MeasurementsMismatched++
			st.diag.Warnf(DiagMeasurementMismatch, m.ChildCode, "测量 %s\\%s 与已确定的父节点 '%s' 不一致", m.ParentCode, m.ChildCode, node.ParentCode)
			continue
		}
		node.AttachMeasurement(m)
		st.stats.MeasurementsAttached++
	}
	return nil
}

// aggregate 刷新节点统计后按层级自底向上汇总子树金额
func (b *TreeBuilderImpl) aggregate(tree *model.Tree) {
	for _, node := range tree.Nodes {
		node.RecomputeStats()
	}

	for level := tree.MaxLevel; level >= 0; level-- {
		for _, code := range tree.NodesByLevel[level] {
			node := tree.Nodes[code]
			total := node.OwnAmount
			for _, childCode := range node.ChildCodes {
				if child, ok := tree.Nodes[childCode]; ok {
					total = total.Add(child.SubtreeAmount)
				}
			}
			node.SubtreeAmount = total
		}
	}

	tree.TotalBudget = decimal.Zero
	for _, code := range tree.Roots {
		tree.TotalBudget = tree.TotalBudget.Add(tree.Nodes[code].SubtreeAmount)
	}
}

// GetName 获取构建器名称
func (b *TreeBuilderImpl) GetName() string {
	return "TreeBuilder"
}

// GetVersion 获取构建器版本
func (b *TreeBuilderImpl) GetVersion() string {
	return "1.0.0"
}

// Config 返回生效的配置副本
func (b *TreeBuilderImpl) Config() BuilderConfig {
	return *b.config
}

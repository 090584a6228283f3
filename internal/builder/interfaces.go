package builder

import (
	"context"

	"github.com/freedkr/bc3tree/internal/model"
)

// TreeBuilder 树构建器接口
type TreeBuilder interface {
	// Build 从单个文件的概念、分解和测量构建树
	Build(ctx context.Context, input *BuildInput, diag *model.Diagnostics) (*BuildResult, error)

	// GetName 获取构建器名称
	GetName() string

	// GetVersion 获取构建器版本
	GetVersion() string
}

var _ TreeBuilder = (*TreeBuilderImpl)(nil)

// BuildStats 构建统计
type BuildStats struct {
	Nodes             int `json:"nodes"`              // 节点数
	Roots             int `json:"roots"`              // 根节点数（含孤儿根）
	MaxLevel          int `json:"max_level"`          // 最大层级
	DuplicateConcepts int `json:"duplicate_concepts"` // 重复概念数

	ExplicitRelations  int `json:"explicit_relations"`  // 显式候选关系数
	InferredRelations  int `json:"inferred_relations"`  // 仅由推断得到的候选关系数
	DedupedRelations   int `json:"deduped_relations"`   // 重复发现被合并的关系数
	MissingEndpoints   int `json:"missing_endpoints"`   // 端点缺失被跳过的分解关系数
	CommittedRelations int `json:"committed_relations"` // 已提交关系数

	RejectedSelf     int `json:"rejected_self"`     // 自引用
	RejectedCycle    int `json:"rejected_cycle"`    // 成环
	RejectedConflict int `json:"rejected_conflict"` // 父节点冲突
	OrphanRoots      int `json:"orphan_roots"`      // 孤儿根

	MeasurementsAttached   int `json:"measurements_attached"`
	MeasurementsNotFound   int `json:"measurements_not_found"`
	MeasurementsMismatched int `json:"measurements_mismatched"`

	ProcessingTime int64 `json:"processing_time"` // 处理时间(毫秒)
}

// RejectedRelations 被拒绝的候选关系总数
func (s *BuildStats) RejectedRelations() int {
	return s.RejectedSelf + s.RejectedCycle + s.RejectedConflict
}

// RejectedRatio 被拒绝关系占已处理候选关系的比例
func (s *BuildStats) RejectedRatio() float64 {
	total := s.CommittedRelations + s.RejectedRelations()
	if total == 0 {
		return 0
	}
	return float64(s.RejectedRelations()) / float64(total)
}

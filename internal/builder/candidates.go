package builder

// Source 候选关系来源，可按位组合
type Source uint8

const (
	SourceExplicit Source = 1 << iota // 分解记录显式声明
	SourceInferred                    // 编码模式推断
)

// Has 是否包含指定来源
func (s Source) Has(other Source) bool {
	return s&other != 0
}

func (s Source) String() string {
	switch {
	case s.Has(SourceExplicit) && s.Has(SourceInferred):
		return "explicit+inferred"
	case s.Has(SourceExplicit):
		return "explicit"
	case s.Has(SourceInferred):
		return "inferred"
	default:
		return "unknown"
	}
}

// Candidate 带来源标记的候选父子关系
type Candidate struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Source Source `json:"source"`
}

type relationKey struct {
	parent string
	child  string
}

// candidateSet 有序去重的候选关系集合
type candidateSet struct {
	order      []*Candidate
	index      map[relationKey]*Candidate
	childCount map[string]int
}

func newCandidateSet() *candidateSet {
	return &candidateSet{
		order:      make([]*Candidate, 0),
		index:      make(map[relationKey]*Candidate),
		childCount: make(map[string]int),
	}
}

// add 记录候选关系，已存在时合并来源并返回false
func (s *candidateSet) add(parent, child string, source Source) bool {
	key := relationKey{parent: parent, child: child}
	if existing, ok := s.index[key]; ok {
		existing.Source |= source
		return false
	}
	c := &Candidate{Parent: parent, Child: child, Source: source}
	s.order = append(s.order, c)
	s.index[key] = c
	s.childCount[child]++
	return true
}

// isChild 编码是否作为子节点出现在任一候选中
func (s *candidateSet) isChild(code string) bool {
	return s.childCount[code] > 0
}

func (s *candidateSet) len() int {
	return len(s.order)
}

// ordered 按冲突策略稳定分组，组内保持发现顺序
func (s *candidateSet) ordered(policy ConflictPolicy) []*Candidate {
	explicitFirst := policy != PolicyInferredFirst
	result := make([]*Candidate, 0, len(s.order))
	for _, c := range s.order {
		if c.Source.Has(SourceExplicit) == explicitFirst {
			result = append(result, c)
		}
	}
	for _, c := range s.order {
		if c.Source.Has(SourceExplicit) != explicitFirst {
			result = append(result, c)
		}
	}
	return result
}

package handlers

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/model"
)

// NodeDTO 节点响应结构
type NodeDTO struct {
	Code             string              `json:"code"`
	ParentCode       string              `json:"parent_code"`
	Summary          string              `json:"summary"`
	Unit             string              `json:"unit"`
	UnitPrice        decimal.NullDecimal `json:"unit_price"`
	TypeCode         *int                `json:"type_code"`
	IsChapter        bool                `json:"is_chapter"`
	IsItem           bool                `json:"is_item"`
	Level            int                 `json:"level"`
	Path             []string            `json:"path"`
	PathString       string              `json:"path_string"`
	ChildCodes       []string            `json:"child_codes"`
	HasChildren      bool                `json:"has_children"`
	SubtreeAmount    decimal.Decimal     `json:"subtree_amount"`
	MeasurementTotal decimal.Decimal     `json:"measurement_total"`
	Measurements     json.RawMessage     `json:"measurements,omitempty"`
}

func newNodeDTO(rec *database.TreeNodeRecord, withMeasurements bool) NodeDTO {
	route := append(append([]string{}, rec.Path...), rec.Code)
	dto := NodeDTO{
		Code:             rec.Code,
		ParentCode:       rec.ParentCode,
		Summary:          rec.Summary,
		Unit:             rec.Unit,
		UnitPrice:        rec.UnitPrice,
		TypeCode:         rec.TypeCode,
		IsChapter:        rec.IsChapter,
		IsItem:           rec.IsItem,
		Level:            rec.Level,
		Path:             route,
		PathString:       strings.Join(route, model.PathSeparator),
		ChildCodes:       append([]string{}, rec.ChildCodes...),
		HasChildren:      len(rec.ChildCodes) > 0,
		SubtreeAmount:    rec.SubtreeAmount,
		MeasurementTotal: rec.MeasurementTotal,
	}
	if withMeasurements && len(rec.Measurements) > 0 {
		dto.Measurements = json.RawMessage(rec.Measurements)
	}
	return dto
}

func newNodeDTOs(recs []*database.TreeNodeRecord, withMeasurements bool) []NodeDTO {
	out := make([]NodeDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newNodeDTO(rec, withMeasurements))
	}
	return out
}

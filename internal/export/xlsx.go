package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/navigator"
)

// 工作表名称
const (
	SheetTree         = "Arbol"
	SheetMeasurements = "Mediciones"
)

var (
	treeHeader = []interface{}{
		"Codigo", "Resumen", "Unidad", "Nivel", "Tipo", "Precio", "Importe", "Mediciones", "Total medido", "Ruta",
	}
	measurementHeader = []interface{}{
		"Padre", "Codigo", "Posicion", "Tipo linea", "Comentario", "BIM", "N", "Longitud", "Anchura", "Altura", "Parcial", "Total",
	}
)

// XLSXWriter 概念树表格导出
type XLSXWriter struct {
	// IndentSummary 按层级缩进概要列
	IndentSummary bool
}

// NewXLSXWriter 创建表格导出器
func NewXLSXWriter() *XLSXWriter {
	return &XLSXWriter{IndentSummary: true}
}

// Write 写出两张工作表：先序展开的树和全部测量行
func (x *XLSXWriter) Write(w io.Writer, tree *model.Tree) error {
	f, err := x.Build(tree)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return model.NewFileError(model.ErrCodeFileWriteError, SheetTree, "write", "写出xlsx失败", err)
	}
	return nil
}

// Build 生成工作簿，调用方负责关闭
func (x *XLSXWriter) Build(tree *model.Tree) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetTree); err != nil {
		f.Close()
		return nil, fmt.Errorf("重命名工作表失败: %w", err)
	}
	if _, err := f.NewSheet(SheetMeasurements); err != nil {
		f.Close()
		return nil, fmt.Errorf("创建工作表失败: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("创建样式失败: %w", err)
	}

	if err := x.writeTree(f, tree, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := x.writeMeasurements(f, tree, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (x *XLSXWriter) writeTree(f *excelize.File, tree *model.Tree, headerStyle int) error {
	if err := writeHeader(f, SheetTree, treeHeader, headerStyle); err != nil {
		return err
	}

	row := 2
	var writeErr error
	navigator.New(tree).Walk(func(node *model.Node) bool {
		c := node.Concept
		summary := c.Summary
		if x.IndentSummary {
			summary = strings.Repeat("  ", node.Level) + summary
		}
		typeCode := ""
		if c.TypeCode != nil {
			typeCode = strconv.Itoa(*c.TypeCode)
		}
		values := []interface{}{
			c.Code, summary, c.Unit, node.Level, typeCode,
			nullFloat(c.UnitPrice), node.SubtreeAmount.InexactFloat64(),
			node.MeasurementCount, node.MeasurementTotal.InexactFloat64(),
			strings.Join(node.Path, model.PathSeparator),
		}
		if writeErr = setRow(f, SheetTree, row, values); writeErr != nil {
			return false
		}
		row++
		return true
	})
	if writeErr != nil {
		return writeErr
	}
	return f.SetColWidth(SheetTree, "B", "B", 48)
}

func (x *XLSXWriter) writeMeasurements(f *excelize.File, tree *model.Tree, headerStyle int) error {
	if err := writeHeader(f, SheetMeasurements, measurementHeader, headerStyle); err != nil {
		return err
	}

	row := 2
	for _, code := range tree.Codes {
		for _, m := range tree.Nodes[code].Measurements {
			position := make([]string, 0, len(m.Position))
			for _, p := range m.Position {
				position = append(position, strconv.Itoa(p))
			}
			if len(m.Lines) == 0 {
				values := []interface{}{m.ParentCode, m.ChildCode, strings.Join(position, "."), "", m.Label, "", "", "", "", "", "", m.Total().InexactFloat64()}
				if err := setRow(f, SheetMeasurements, row, values); err != nil {
					return err
				}
				row++
				continue
			}
			for _, line := range m.Lines {
				values := []interface{}{
					m.ParentCode, m.ChildCode, strings.Join(position, "."), line.LineType, line.Comment, line.BIMID,
					nullFloat(line.Count), nullFloat(line.Length), nullFloat(line.Width), nullFloat(line.Height),
					nullFloat(line.Partial), m.Total().InexactFloat64(),
				}
				if err := setRow(f, SheetMeasurements, row, values); err != nil {
					return err
				}
				row++
			}
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []interface{}, style int) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("写入 %s 第%d行失败: %w", sheet, row, err)
	}
	return nil
}

// nullFloat 缺失值写为空单元格
func nullFloat(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return ""
	}
	return d.Decimal.InexactFloat64()
}

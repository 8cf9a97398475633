package export

import (
	"errors"
	"fmt"
	"io"
	"time"

	"beds4crew/internal/domain"
	"beds4crew/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetName   = "Occupancy"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// первая строка заголовок периода, вторая даты
	headerRows = 2
)

var stateFills = map[string]string{
	models.DayBooked:  "#F8CBAD",
	models.DayBlocked: "#D9D9D9",
}

// FileName is the download name of an occupancy export.
func FileName(propertyID int64, start, end time.Time) string {
	return fmt.Sprintf("occupancy_%d_%s_to_%s.xlsx", propertyID, start.Format(time.DateOnly), end.Format(time.DateOnly))
}

// WriteOccupancy renders the grid as a workbook with beds as rows and days as columns.
func WriteOccupancy(w io.Writer, grid *domain.OccupancyGrid) error {
	if grid == nil || grid.Property == nil {
		return errors.New("export: empty occupancy grid")
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	if err := writeTitle(f, grid); err != nil {
		return err
	}
	if err := writeDateHeaders(f, grid.Days); err != nil {
		return err
	}
	if err := writeBedRows(f, grid); err != nil {
		return err
	}

	_ = f.SetColWidth(SheetName, "A", "A", 28)
	if len(grid.Days) > 0 {
		last, _ := excelize.ColumnNumberToName(len(grid.Days) + 1)
		_ = f.SetColWidth(SheetName, "B", last, 12)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeTitle(f *excelize.File, grid *domain.OccupancyGrid) error {
	title := grid.Property.Title
	if n := len(grid.Days); n > 0 {
		title = fmt.Sprintf("%s: %s - %s", title, grid.Days[0].Format("02.01.2006"), grid.Days[n-1].Format("02.01.2006"))
	}
	if err := f.SetCellValue(SheetName, "A1", title); err != nil {
		return err
	}

	lastCol, _ := excelize.ColumnNumberToName(len(grid.Days) + 1)
	if lastCol != "A" {
		_ = f.MergeCell(SheetName, "A1", lastCol+"1")
	}

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	return f.SetCellStyle(SheetName, "A1", "A1", style)
}

func writeDateHeaders(f *excelize.File, days []time.Time) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	if err := f.SetCellValue(SheetName, "A2", "Bed"); err != nil {
		return err
	}
	for i, day := range days {
		cell, _ := excelize.CoordinatesToCellName(i+2, headerRows)
		if err := f.SetCellValue(SheetName, cell, day.Format("02.01")); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(days)+1, headerRows)
	return f.SetCellStyle(SheetName, "A2", last, style)
}

func writeBedRows(f *excelize.File, grid *domain.OccupancyGrid) error {
	styles := make(map[string]int, len(stateFills))
	for state, color := range stateFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		if err != nil {
			return err
		}
		styles[state] = id
	}

	for i, bb := range grid.Beds {
		row := headerRows + 1 + i
		label, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellValue(SheetName, label, bb.Label); err != nil {
			return err
		}
		if i >= len(grid.Cells) {
			continue
		}
		for j, cell := range grid.Cells[i] {
			name, _ := excelize.CoordinatesToCellName(j+2, row)
			style, marked := styles[cell.State]
			if !marked {
				continue
			}
			if err := f.SetCellValue(SheetName, name, cell.Source); err != nil {
				return err
			}
			_ = f.SetCellStyle(SheetName, name, name, style)
		}
	}
	return nil
}

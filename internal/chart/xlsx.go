package chart

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"funnel/internal/funnel"
	"funnel/internal/report"
)

// SheetName is the worksheet holding the report in exported workbooks.
const SheetName = "Funnel"

// WriteXLSX saves a workbook with the report table and a bar chart of unique
// users per stage.
func WriteXLSX(path string, r funnel.Report, opt Options) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", SheetName)

	header := make([]any, len(report.Columns))
	for i, c := range report.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("chart: xlsx header: %w", err)
	}

	for i, m := range r.Stages {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("chart: xlsx: %w", err)
		}
		row := []any{m.Stage, m.UniqueUsers, m.StepConversionRate, m.DropOffRate, m.OverallConversionRate}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("chart: xlsx row %d: %w", i+2, err)
		}
	}

	if n := len(r.Stages); n > 0 {
		last := n + 1
		if err := f.AddChart(SheetName, "G2", &excelize.Chart{
			Type: excelize.Bar,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$B$1", SheetName),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", SheetName, last),
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", SheetName, last),
				Fill:       excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{opt.color(0)}},
			}},
			Title: []excelize.RichTextRun{{Text: opt.title()}},
			YAxis: excelize.ChartAxis{ReverseOrder: true},
		}); err != nil {
			return fmt.Errorf("chart: xlsx chart: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("chart: save %s: %w", path, err)
	}
	return nil
}

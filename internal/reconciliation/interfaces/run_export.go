package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	readings "meterflow/internal/readings/domain"
	recon "meterflow/internal/reconciliation/domain"
)

// BuildRunPDF renders a reconciliation run summary with its meter results.
func BuildRunPDF(run *recon.Run, results []recon.MeterResult) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Reconciliation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Site: %s", run.SiteID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s (%s to %s)", run.PeriodLabel,
		run.DateFrom.Format("2006-01-02"), run.DateTo.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Meters: %d", run.MeterCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Corrections: %d", run.CorrectionsCount))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Total Supply (kWh): %.3f", run.Energy.TotalSupply))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Distribution (kWh): %.3f", run.Energy.TotalDistribution))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Discrepancy (kWh): %.3f", run.Energy.Discrepancy))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Recovery Rate: %.2f%%", run.Energy.RecoveryRatePct))
	pdf.Ln(5)
	if run.RevenueEnabled {
		pdf.Cell(0, 6, fmt.Sprintf("Total Revenue: %.2f", run.Money.TotalDistribution))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Avg Cost (per kWh): %.4f", run.AvgCostPerKWh))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(55, 6, "Meter", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Direct (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Hierarchy (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Cost", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, result := range results {
		name := result.MeterName
		if name == "" {
			name = result.MeterID
		}
		pdf.CellFormat(55, 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(result.MeterType), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.3f", result.Direct.TotalKWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", result.Hierarchy.TotalKWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", result.Chosen().TotalCost), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunXLSX renders a reconciliation run workbook: a summary sheet and a
// per-meter results sheet.
func BuildRunXLSX(run *recon.Run, results []recon.MeterResult) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	resultsSheet := "meters"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(resultsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Reconciliation Report")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", run.SiteID)
	_ = f.SetCellValue(summarySheet, "A4", "Period")
	_ = f.SetCellValue(summarySheet, "B4", run.PeriodLabel)
	_ = f.SetCellValue(summarySheet, "A5", "From")
	_ = f.SetCellValue(summarySheet, "B5", run.DateFrom.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "To")
	_ = f.SetCellValue(summarySheet, "B6", run.DateTo.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A7", "Total Supply (kWh)")
	_ = f.SetCellValue(summarySheet, "B7", run.Energy.TotalSupply)
	_ = f.SetCellValue(summarySheet, "A8", "Total Distribution (kWh)")
	_ = f.SetCellValue(summarySheet, "B8", run.Energy.TotalDistribution)
	_ = f.SetCellValue(summarySheet, "A9", "Discrepancy (kWh)")
	_ = f.SetCellValue(summarySheet, "B9", run.Energy.Discrepancy)
	_ = f.SetCellValue(summarySheet, "A10", "Recovery Rate (%)")
	_ = f.SetCellValue(summarySheet, "B10", run.Energy.RecoveryRatePct)
	_ = f.SetCellValue(summarySheet, "A11", "Meters")
	_ = f.SetCellValue(summarySheet, "B11", run.MeterCount)
	_ = f.SetCellValue(summarySheet, "A12", "Corrections")
	_ = f.SetCellValue(summarySheet, "B12", run.CorrectionsCount)
	if run.RevenueEnabled {
		_ = f.SetCellValue(summarySheet, "A13", "Total Revenue")
		_ = f.SetCellValue(summarySheet, "B13", run.Money.TotalDistribution)
		_ = f.SetCellValue(summarySheet, "A14", "Avg Cost (per kWh)")
		_ = f.SetCellValue(summarySheet, "B14", run.AvgCostPerKWh)
	}

	headers := []string{"Meter", "Type", "Assignment", "Parent",
		"Direct (kWh)", "Direct Readings", "Hierarchy (kWh)", "Hierarchy Readings",
		"Energy Cost", "Fixed Charges", "Demand Charges", "Total Cost", "Pricing Error"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, header)
	}
	for i, result := range results {
		row := i + 2
		chosen := result.Chosen()
		name := result.MeterName
		if name == "" {
			name = result.MeterID
		}
		values := []any{
			name, string(result.MeterType), result.Assignment, result.IsParent,
			result.Direct.TotalKWh, result.Direct.ReadingsCount,
			result.Hierarchy.TotalKWh, result.Hierarchy.ReadingsCount,
			chosen.EnergyCost, chosen.FixedCharges, chosen.DemandCharges, chosen.TotalCost, chosen.PricingError,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(resultsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunCSV renders the per-meter results as csv.
func BuildRunCSV(run *recon.Run, results []recon.MeterResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{
		"run_id", "meter_id", "meter_name", "meter_type", "assignment", "is_parent",
		"direct_kwh", "hierarchy_kwh", "chosen_kwh", "total_cost", "pricing_error",
	}); err != nil {
		return nil, err
	}
	for _, result := range results {
		chosen := result.Chosen()
		record := []string{
			run.ID,
			result.MeterID,
			result.MeterName,
			string(result.MeterType),
			result.Assignment,
			strconv.FormatBool(result.IsParent),
			strconv.FormatFloat(result.Direct.TotalKWh, 'f', 3, 64),
			strconv.FormatFloat(result.Hierarchy.TotalKWh, 'f', 3, 64),
			strconv.FormatFloat(chosen.TotalKWh, 'f', 3, 64),
			strconv.FormatFloat(chosen.TotalCost, 'f', 2, 64),
			chosen.PricingError,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCorrectionsCSV renders the sanitizer corrections of a run as csv.
func BuildCorrectionsCSV(runID string, corrections []readings.Correction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{
		"run_id", "meter_id", "field", "ts", "original", "corrected", "reason",
	}); err != nil {
		return nil, err
	}
	for _, c := range corrections {
		record := []string{
			runID,
			c.MeterID,
			c.Field,
			c.TS.Format("2006-01-02T15:04:05Z07:00"),
			strconv.FormatFloat(c.Original, 'f', -1, 64),
			strconv.FormatFloat(c.Corrected, 'f', -1, 64),
			c.Reason,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package infra

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// ExportSheet is the worksheet name of excel exports.
const ExportSheet = "checks"

var exportHeader = []string{
	"id", "checkedAt", "ruleId", "targetId", "targetType", "actionType", "deviceId",
	"taskId", "result", "reason", "confidence", "actionTaken", "countForTarget",
	"countForWindow", "delayUntil", "fallbackStrategy",
}

// Exporter writes checks in the operator's chosen format.
type Exporter struct{}

// NewExporter creates an exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// ContentType returns the MIME type and file extension of a format.
func (e *Exporter) ContentType(format domain.ExportFormat) (mime, ext string) {
	switch format {
	case domain.ExportCSV:
		return "text/csv", "csv"
	case domain.ExportExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	}
	return "application/json", "json"
}

// Export writes checks to w.
func (e *Exporter) Export(w io.Writer, checks []domain.DuplicationCheck, format domain.ExportFormat) error {
	switch format {
	case domain.ExportJSON:
		return e.exportJSON(w, checks)
	case domain.ExportCSV:
		return e.exportCSV(w, checks)
	case domain.ExportExcel:
		return e.exportExcel(w, checks)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func (e *Exporter) exportJSON(w io.Writer, checks []domain.DuplicationCheck) error {
	if checks == nil {
		checks = []domain.DuplicationCheck{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(checks); err != nil {
		return fmt.Errorf("failed to write json export: %w", err)
	}
	return nil
}

func (e *Exporter) exportCSV(w io.Writer, checks []domain.DuplicationCheck) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, c := range checks {
		if err := cw.Write(exportRow(c)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *Exporter) exportExcel(w io.Writer, checks []domain.DuplicationCheck) error {
	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty Sheet1 behind.
	if err := f.SetSheetName(f.GetSheetName(0), ExportSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := toCells(exportHeader)
	if err := f.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write excel header: %w", err)
	}
	for i, c := range checks {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := toCells(exportRow(c))
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write excel row: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write excel export: %w", err)
	}
	return nil
}

func exportRow(c domain.DuplicationCheck) []string {
	delayUntil := ""
	if c.DelayUntil != nil {
		delayUntil = c.DelayUntil.UTC().Format(time.RFC3339)
	}
	return []string{
		c.ID,
		c.CheckedAt.UTC().Format(time.RFC3339),
		c.RuleID,
		c.TargetID,
		c.TargetType,
		string(c.ActionType),
		c.DeviceID,
		c.TaskID,
		string(c.Result),
		c.Reason,
		strconv.Itoa(c.Confidence),
		string(c.ActionTaken),
		strconv.Itoa(c.Details.CountForTarget),
		strconv.Itoa(c.Details.CountForWindow),
		delayUntil,
		string(c.FallbackStrategy),
	}
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

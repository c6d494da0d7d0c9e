package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	sourcesSheet = "Sources"
	tablesSheet  = "Tables"
)

// WriteXLSX exports a coverage report as a two-sheet workbook: one row
// per source with per-table counts, and one row per content table with
// its total.
func WriteXLSX(cov *Coverage, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeSourcesSheet(f, cov); err != nil {
		return err
	}
	if err := writeTablesSheet(f, cov); err != nil {
		return err
	}

	// The default sheet excelize creates is replaced by ours.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}
	idx, err := f.GetSheetIndex(sourcesSheet)
	if err != nil {
		return fmt.Errorf("locating sources sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeSourcesSheet(f *excelize.File, cov *Coverage) error {
	if _, err := f.NewSheet(sourcesSheet); err != nil {
		return fmt.Errorf("creating sources sheet: %w", err)
	}

	header := []any{"Source ID", "Name", "Size", "Status", "Entities", "Relationships", "Failed Categories", "Created"}
	for _, table := range cov.Tables {
		header = append(header, table)
	}
	if err := setRow(f, sourcesSheet, 1, header); err != nil {
		return err
	}

	for i, src := range cov.Sources {
		row := []any{
			src.SourceID, src.Name, src.Size, src.ExtractionStatus,
			src.EntityCount, src.RelationshipCount,
			strings.Join(src.FailedCategories, ", "), src.CreatedAt,
		}
		for _, table := range cov.Tables {
			row = append(row, src.TableCounts[table])
		}
		if err := setRow(f, sourcesSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeTablesSheet(f *excelize.File, cov *Coverage) error {
	if _, err := f.NewSheet(tablesSheet); err != nil {
		return fmt.Errorf("creating tables sheet: %w", err)
	}

	if err := setRow(f, tablesSheet, 1, []any{"Table", "Rows"}); err != nil {
		return err
	}

	tables := make([]string, len(cov.Tables))
	copy(tables, cov.Tables)
	sort.Strings(tables)

	for i, table := range tables {
		if err := setRow(f, tablesSheet, i+2, []any{table, cov.TableTotals[table]}); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing row %d on %s: %w", row, sheet, err)
	}
	return nil
}

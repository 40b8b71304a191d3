package reconcile

import (
	"context"
	"fmt"
	"time"

	"reservas/internal/models"

	"github.com/xuri/excelize/v2"
)

// AttemptLister is the storage the export reads from.
type AttemptLister interface {
	ListAttempts(ctx context.Context, statuses []string, updatedBefore time.Time) ([]models.PaymentAttempt, error)
}

var attemptColumns = []string{
	"Referencia", "Reserva (lock)", "Cancha", "Fecha", "Inicio", "Fin",
	"Cliente", "Email", "Monto", "Autorización", "Motivo", "Actualizado",
}

// sheetWriter appends rows to an excelize workbook one sheet at a time.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return err
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	if err := w.writeRow(toRow(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, 1)
	last, _ := excelize.CoordinatesToCellName(len(columns), 1)
	return w.file.SetCellStyle(w.sheet, first, last, style)
}

func (w *sheetWriter) writeRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return err
	}
	w.row++
	return nil
}

func toRow(columns []string) []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return row
}

// ExportAttempts writes orphaned and unknown payment attempts to an XLSX
// workbook at path, one sheet per status. It returns the number of rows written.
func ExportAttempts(ctx context.Context, lister AttemptLister, path string) (int, error) {
	w := newSheetWriter()
	defer w.file.Close()

	total := 0
	for _, status := range []string{models.AttemptOrphaned, models.AttemptUnknown} {
		attempts, err := lister.ListAttempts(ctx, []string{status}, time.Time{})
		if err != nil {
			return 0, fmt.Errorf("list %s attempts: %w", status, err)
		}
		if err := w.addSheet(status); err != nil {
			return 0, err
		}
		if err := w.writeHeader(attemptColumns); err != nil {
			return 0, err
		}
		for _, a := range attempts {
			if err := w.writeRow([]any{
				a.Reference, a.LockID, a.Slot.CourtID, a.Slot.DateKey(),
				models.FormatClock(a.Slot.Start), models.FormatClock(a.Slot.End),
				a.Customer.Name, a.Customer.Email, a.NetPrice,
				a.AuthorizationCode, a.FailureReason, a.UpdatedAt.Format(time.RFC3339),
			}); err != nil {
				return 0, err
			}
			total++
		}
	}

	if err := w.file.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save %s: %w", path, err)
	}
	return total, nil
}

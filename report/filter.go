package report

import (
	"errors"
	"time"

	"github.com/dinamicdatalab/comments-report/models"
)

// BoundaryHour es la hora (Ecuador) donde termina una ventana del reporte y
// empieza la siguiente
const BoundaryHour = 16

// Razones de descarte, usadas en logs y métricas
const (
	SkipMissing       = "created_at_missing"
	SkipInvalidType   = "created_at_invalid_type"
	SkipInvalidFormat = "created_at_invalid_format"
)

// Cutoff devuelve las 16:00:00 del día calendario anterior a now, en loc. No
// depende de la hora de now.
func Cutoff(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()-1, BoundaryHour, 0, 0, 0, loc)
}

type Skip struct {
	Index  int
	Reason string
	Err    error
}

type FilterResult struct {
	Cutoff  time.Time
	Kept    []models.Comment
	Skipped []Skip
	// Expired cuenta registros válidos pero anteriores al corte
	Expired int
}

// FilterRecent conserva los registros con created_at estrictamente posterior
// al corte. Los que traen created_at ausente o inválido van a Skipped y nunca
// abortan el lote.
func FilterRecent(records []models.Fields, now time.Time, loc *time.Location) FilterResult {
	res := FilterResult{Cutoff: Cutoff(now, loc)}

	for i, rec := range records {
		createdAt, err := rec.CreatedAt(loc)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: skipReason(err), Err: err})
			continue
		}
		if createdAt.After(res.Cutoff) {
			res.Kept = append(res.Kept, models.Comment{Fields: rec, CreatedAt: createdAt})
		} else {
			res.Expired++
		}
	}

	return res
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, models.ErrCreatedAtMissing):
		return SkipMissing
	case errors.Is(err, models.ErrCreatedAtType):
		return SkipInvalidType
	default:
		return SkipInvalidFormat
	}
}

package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/dinamicdatalab/comments-report/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrConvert         = errors.New("json to csv conversion failed")
	ErrNoRecentEntries = errors.New("no recent entries; csv not updated")
)

// Result resume la conversión JSON -> CSV
type Result struct {
	Cutoff         time.Time
	RecordsRead    int
	RecordsSkipped int
	RecordsExpired int
	Columns        []string
	// DroppedColumns son campos permitidos que aparecen en registros
	// posteriores pero no en el primero
	DroppedColumns []string
	Kept           []models.Comment
	Written        bool
}

type Converter struct {
	loc    *time.Location
	logger *common.Logger
}

func NewConverter(loc *time.Location, logger *common.Logger) *Converter {
	return &Converter{loc: loc, logger: logger}
}

// ConvertJSONToCSV lee jsonPath, conserva los comentarios de la ventana
// actual y los escribe en csvPath. Si no queda ninguno devuelve
// ErrNoRecentEntries y csvPath no se toca.
func (c *Converter) ConvertJSONToCSV(jsonPath, csvPath string, now time.Time) (*Result, error) {
	records, err := LoadComments(jsonPath)
	if err != nil {
		return nil, err
	}
	c.logger.RecordRead(len(records))

	filtered := FilterRecent(records, now, c.loc)
	for _, skip := range filtered.Skipped {
		c.logger.WithStep("convert").WithFields(logrus.Fields{
			"index":  skip.Index,
			"reason": skip.Reason,
			"error":  skip.Err.Error(),
		}).Warn("Skipping entry with invalid 'created_at'")
		c.logger.RecordSkipped(skip.Reason)
	}
	c.logger.RecordKept(len(filtered.Kept))

	res := &Result{
		Cutoff:         filtered.Cutoff,
		RecordsRead:    len(records),
		RecordsSkipped: len(filtered.Skipped),
		RecordsExpired: filtered.Expired,
		Kept:           filtered.Kept,
	}

	if len(filtered.Kept) == 0 {
		return res, ErrNoRecentEntries
	}

	res.Columns = Columns(filtered.Kept[0].Fields)
	res.DroppedColumns = DroppedColumns(filtered.Kept, res.Columns)
	if len(res.DroppedColumns) > 0 {
		c.logger.WithStep("convert").WithFields(logrus.Fields{
			"columns": res.Columns,
			"dropped": res.DroppedColumns,
		}).Warn("Columns absent from the first entry are not written")
	}

	if err := WriteCSV(csvPath, res.Columns, filtered.Kept); err != nil {
		return res, err
	}
	res.Written = true

	c.logger.WithStep("convert").WithFields(logrus.Fields{
		"json_path": jsonPath,
		"csv_path":  csvPath,
		"kept":      len(filtered.Kept),
		"cutoff":    filtered.Cutoff.Format(models.CreatedAtLayout),
	}).Info("Converted JSON to CSV with recent entries and available keys")

	return res, nil
}

// LoadComments lee el arreglo JSON de comentarios
func LoadComments(path string) ([]models.Fields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConvert, path, err)
	}

	var records []models.Fields
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrConvert, path, err)
	}
	return records, nil
}

// Columns filtra la lista permitida a las claves presentes en first,
// manteniendo el orden de la lista
func Columns(first models.Fields) []string {
	cols := make([]string, 0, len(models.AllowedFields))
	for _, key := range models.AllowedFields {
		if first.Has(key) {
			cols = append(cols, key)
		}
	}
	return cols
}

func DroppedColumns(kept []models.Comment, cols []string) []string {
	selected := make(map[string]bool, len(cols))
	for _, col := range cols {
		selected[col] = true
	}

	seen := make(map[string]bool)
	for _, comment := range kept {
		for _, key := range models.AllowedFields {
			if !selected[key] && comment.Fields.Has(key) {
				seen[key] = true
			}
		}
	}

	var dropped []string
	for _, key := range models.AllowedFields {
		if seen[key] {
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// WriteCSV escribe el encabezado y una fila por comentario. Se escribe a un
// temporal junto al destino y se renombra, así una falla deja el archivo como
// estaba. Si path es un symlink se reemplaza su destino y se conserva el modo
// del archivo existente.
func WriteCSV(path string, cols []string, comments []models.Comment) error {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrConvert, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(cols); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write header: %w", ErrConvert, err)
	}

	row := make([]string, len(cols))
	for i, comment := range comments {
		for j, col := range cols {
			if col == "created_at" {
				row[j] = comment.CreatedAtString()
			} else {
				row[j] = comment.Fields.Value(col)
			}
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: write row %d: %w", ErrConvert, i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: flush: %w", ErrConvert, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod: %w", ErrConvert, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrConvert, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename to %s: %w", ErrConvert, path, err)
	}
	return nil
}

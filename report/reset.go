package report

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrReset = errors.New("csv reset failed")

// ShouldReset indica si now cae en [16:00, 16:00+window) de su propio día en
// loc. Con ventana de un minuto equivale a hora == 16 y minuto == 0.
func ShouldReset(now time.Time, loc *time.Location, window time.Duration) bool {
	if window <= 0 {
		window = time.Minute
	}
	n := now.In(loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), BoundaryHour, 0, 0, 0, loc)
	return !n.Before(start) && n.Before(start.Add(window))
}

// ResetCSV deja el archivo en cero bytes, sin encabezado
func ResetCSV(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReset, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrReset, err)
	}
	return nil
}

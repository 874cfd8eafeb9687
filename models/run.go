package models

import "time"

// RunSummary describe una corrida del reporte; se publica y se archiva
type RunSummary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Cutoff         time.Time `json:"cutoff"`
	RecordsRead    int       `json:"records_read"`
	RecordsKept    int       `json:"records_kept"`
	RecordsSkipped int       `json:"records_skipped"`
	Columns        []string  `json:"columns"`
	CSVWritten     bool      `json:"csv_written"`
	EmailSent      bool      `json:"email_sent"`
	CSVReset       bool      `json:"csv_reset"`
	Errors         []string  `json:"errors,omitempty"`
}

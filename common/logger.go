package common

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger es un wrapper sobre logrus con contexto
type Logger struct {
	*logrus.Logger
	serviceName string
	metrics     *Metrics
}

// Metrics almacena métricas básicas de la corrida en memoria
type Metrics struct {
	mu             sync.RWMutex
	recordsRead    int64
	recordsKept    int64
	recordsSkipped int64
	skipsByReason  map[string]int64
	stepsFailed    map[string]int64
	stepDurations  map[string]time.Duration
	startTime      time.Time
}

// NewLogger crea un logger estructurado
func NewLogger(serviceName string) *Logger {
	return NewLoggerWithOutput(serviceName, os.Stdout)
}

func NewLoggerWithOutput(serviceName string, out io.Writer) *Logger {
	log := logrus.New()

	// Formato JSON, mismo esquema de campos que el resto de servicios
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		log.SetLevel(logrus.DebugLevel)
	case "WARN":
		log.SetLevel(logrus.WarnLevel)
	case "ERROR":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	log.SetOutput(out)

	return &Logger{
		Logger:      log,
		serviceName: serviceName,
		metrics:     NewMetrics(),
	}
}

// WithRunID añade el id de la corrida al contexto
func (l *Logger) WithRunID(runID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"service": l.serviceName,
		"run_id":  runID,
	})
}

// WithStep añade el paso del reporte (convert, notify, reset...)
func (l *Logger) WithStep(step string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"service": l.serviceName,
		"step":    step,
	})
}

// WithError añade error al contexto
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"service": l.serviceName,
		"error":   err.Error(),
	})
}

// === Métodos de Métricas ===

func NewMetrics() *Metrics {
	return &Metrics{
		skipsByReason: make(map[string]int64),
		stepsFailed:   make(map[string]int64),
		stepDurations: make(map[string]time.Duration),
		startTime:     time.Now(),
	}
}

// RecordRead suma registros leídos del JSON
func (l *Logger) RecordRead(n int) {
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	l.metrics.recordsRead += int64(n)
}

// RecordKept suma registros dentro de la ventana
func (l *Logger) RecordKept(n int) {
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	l.metrics.recordsKept += int64(n)
}

// RecordSkipped registra un registro descartado por created_at inválido
func (l *Logger) RecordSkipped(reason string) {
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	l.metrics.recordsSkipped++
	l.metrics.skipsByReason[reason]++
}

// RecordStep registra la duración de un paso y si falló
func (l *Logger) RecordStep(step string, duration time.Duration, err error) {
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	l.metrics.stepDurations[step] += duration
	if err != nil {
		l.metrics.stepsFailed[step]++
	}
}

// GetMetrics retorna snapshot de métricas
func (l *Logger) GetMetrics() MetricsSnapshot {
	l.metrics.mu.RLock()
	defer l.metrics.mu.RUnlock()

	// Copiar mapas para evitar race conditions
	skips := make(map[string]int64, len(l.metrics.skipsByReason))
	for k, v := range l.metrics.skipsByReason {
		skips[k] = v
	}
	failed := make(map[string]int64, len(l.metrics.stepsFailed))
	for k, v := range l.metrics.stepsFailed {
		failed[k] = v
	}
	durations := make(map[string]string, len(l.metrics.stepDurations))
	for k, v := range l.metrics.stepDurations {
		durations[k] = v.String()
	}

	return MetricsSnapshot{
		Service:        l.serviceName,
		Elapsed:        time.Since(l.metrics.startTime).String(),
		RecordsRead:    l.metrics.recordsRead,
		RecordsKept:    l.metrics.recordsKept,
		RecordsSkipped: l.metrics.recordsSkipped,
		SkipsByReason:  skips,
		StepsFailed:    failed,
		StepDurations:  durations,
	}
}

// MetricsSnapshot es un snapshot de las métricas
type MetricsSnapshot struct {
	Service        string            `json:"service"`
	Elapsed        string            `json:"elapsed"`
	RecordsRead    int64             `json:"records_read"`
	RecordsKept    int64             `json:"records_kept"`
	RecordsSkipped int64             `json:"records_skipped"`
	SkipsByReason  map[string]int64  `json:"skips_by_reason"`
	StepsFailed    map[string]int64  `json:"steps_failed"`
	StepDurations  map[string]string `json:"step_durations"`
}

// LogMetrics imprime métricas actuales
func (l *Logger) LogMetrics() {
	metrics := l.GetMetrics()
	l.WithFields(logrus.Fields{
		"service":         metrics.Service,
		"elapsed":         metrics.Elapsed,
		"records_read":    metrics.RecordsRead,
		"records_kept":    metrics.RecordsKept,
		"records_skipped": metrics.RecordsSkipped,
		"skips_by_reason": metrics.SkipsByReason,
		"steps_failed":    metrics.StepsFailed,
		"step_durations":  metrics.StepDurations,
	}).Info("Metrics snapshot")
}

package main

import (
	"context"
	"errors"
	"time"
	_ "time/tzdata"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/dinamicdatalab/comments-report/models"
	"github.com/dinamicdatalab/comments-report/report"
	"github.com/dinamicdatalab/comments-report/services"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type archiver interface {
	SaveRun(ctx context.Context, run models.RunSummary, comments []models.Comment) (int, error)
}

type indexer interface {
	IndexComments(ctx context.Context, comments []models.Comment) (int, error)
}

type publisher interface {
	PublishRunSummary(summary models.RunSummary) error
}

type Reporter struct {
	config    *common.Config
	logger    *common.Logger
	converter *report.Converter
	mailer    *services.Mailer

	// Sinks opcionales, nil cuando no están configurados
	archive archiver
	search  indexer
	events  publisher

	closers []func()
}

func NewReporter(ctx context.Context, cfg *common.Config, logger *common.Logger) *Reporter {
	r := &Reporter{
		config:    cfg,
		logger:    logger,
		converter: report.NewConverter(cfg.Location, logger),
		mailer:    services.NewMailer(cfg, services.NewSMTPTransport(cfg), logger),
	}

	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.NetworkTimeout)
		archive, err := services.NewArchive(connectCtx, cfg.DatabaseURL, logger)
		if err == nil {
			err = archive.EnsureSchema(connectCtx)
			if err != nil {
				archive.Close()
			}
		}
		cancel()
		if err != nil {
			logger.WithError(err).Error("PostgreSQL archive disabled")
		} else {
			r.archive = archive
			r.closers = append(r.closers, func() { archive.Close() })
		}
	}

	if cfg.ElasticsearchURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.NetworkTimeout)
		search, err := services.NewSearchIndexer(connectCtx, cfg.ElasticsearchURL, cfg.ElasticsearchIndex, logger)
		cancel()
		if err != nil {
			logger.WithError(err).Error("Elasticsearch indexing disabled")
		} else {
			r.search = search
		}
	}

	if cfg.RabbitMQURL != "" {
		events, err := services.NewRabbitMQService(cfg.RabbitMQURL, cfg.ReportQueue, cfg.NetworkTimeout, logger)
		if err != nil {
			logger.WithError(err).Error("RabbitMQ run events disabled")
		} else {
			r.events = events
			r.closers = append(r.closers, events.Close)
		}
	}

	return r
}

// Run ejecuta cada paso una vez. Las fallas de un paso se registran en el
// resumen y en el log, y no detienen los pasos siguientes.
func (r *Reporter) Run(ctx context.Context, now time.Time) models.RunSummary {
	now = now.In(r.config.Location)
	summary := models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Cutoff:    report.Cutoff(now, r.config.Location),
	}
	logger := r.logger.WithRunID(summary.RunID)
	logger.WithFields(logrus.Fields{
		"current_time": now.Format(models.CreatedAtLayout),
		"cutoff":       summary.Cutoff.Format(models.CreatedAtLayout),
	}).Info("Starting comments report")

	var result *report.Result
	err := r.step(&summary, "convert", func() error {
		var err error
		result, err = r.converter.ConvertJSONToCSV(r.config.JSONPath, r.config.CSVPath, now)
		return err
	})
	if errors.Is(err, report.ErrNoRecentEntries) {
		logger.Info("No recent entries found; CSV not updated")
	}
	if result != nil {
		summary.RecordsRead = result.RecordsRead
		summary.RecordsKept = len(result.Kept)
		summary.RecordsSkipped = result.RecordsSkipped
		summary.Columns = result.Columns
		summary.CSVWritten = result.Written
	}

	if result != nil && len(result.Kept) > 0 {
		if r.archive != nil {
			r.step(&summary, "archive", func() error {
				stepCtx, cancel := context.WithTimeout(ctx, r.config.NetworkTimeout)
				defer cancel()
				_, err := r.archive.SaveRun(stepCtx, summary, result.Kept)
				return err
			})
		}
		if r.search != nil {
			r.step(&summary, "index", func() error {
				stepCtx, cancel := context.WithTimeout(ctx, r.config.NetworkTimeout)
				defer cancel()
				_, err := r.search.IndexComments(stepCtx, result.Kept)
				return err
			})
		}
	}

	err = r.step(&summary, "notify", func() error {
		stepCtx, cancel := context.WithTimeout(ctx, r.config.NetworkTimeout)
		defer cancel()
		return r.mailer.SendReport(stepCtx, r.config.CSVPath, now)
	})
	summary.EmailSent = err == nil

	if report.ShouldReset(now, r.config.Location, r.config.ResetWindow) {
		err = r.step(&summary, "reset", func() error {
			return report.ResetCSV(r.config.CSVPath)
		})
		if err == nil {
			summary.CSVReset = true
			logger.Info("CSV file reset successfully")
		}
	}

	if r.events != nil {
		r.step(&summary, "publish", func() error {
			return r.events.PublishRunSummary(summary)
		})
	}

	logger.WithFields(logrus.Fields{
		"records_kept": summary.RecordsKept,
		"csv_written":  summary.CSVWritten,
		"email_sent":   summary.EmailSent,
		"csv_reset":    summary.CSVReset,
	}).Info("Comments report finished")

	return summary
}

func (r *Reporter) step(summary *models.RunSummary, name string, fn func() error) error {
	start := time.Now()
	err := fn()

	// Sin entradas recientes no es una falla del paso
	failed := err
	if errors.Is(err, report.ErrNoRecentEntries) {
		failed = nil
	}
	r.logger.RecordStep(name, time.Since(start), failed)

	if failed != nil {
		summary.Errors = append(summary.Errors, name+": "+failed.Error())
		r.logger.WithStep(name).WithFields(logrus.Fields{
			"kind":  errorKind(failed),
			"error": failed.Error(),
		}).Error("Step failed")
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, report.ErrConvert):
		return "convert"
	case errors.Is(err, services.ErrAttachmentMissing):
		return "attachment_missing"
	case errors.Is(err, services.ErrSend):
		return "smtp"
	case errors.Is(err, report.ErrReset):
		return "reset"
	case errors.Is(err, services.ErrArchive):
		return "archive"
	case errors.Is(err, services.ErrIndex):
		return "index"
	case errors.Is(err, services.ErrPublish):
		return "publish"
	default:
		return "unknown"
	}
}

func (r *Reporter) Close() {
	for _, closeFn := range r.closers {
		closeFn()
	}
}

func main() {
	cfg, cfgErr := common.LoadConfig()
	logger := common.NewLogger("comments-report")

	if cfgErr != nil {
		logger.WithError(cfgErr).Warn("An error occurred while loading the environment variables")
	} else {
		logger.WithFields(logrus.Fields{"env_file": cfg.EnvFile}).Info("Environment variables loaded successfully")
	}
	logger.WithFields(logrus.Fields{
		"email_user": cfg.EmailUser,
		"email_to":   cfg.EmailTo,
		"email_to_2": cfg.EmailTo2,
	}).Info("Email configuration")

	ctx := context.Background()
	reporter := NewReporter(ctx, cfg, logger)
	defer reporter.Close()

	reporter.Run(ctx, time.Now())
	logger.LogMetrics()
}

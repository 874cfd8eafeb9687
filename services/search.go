package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/dinamicdatalab/comments-report/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sirupsen/logrus"
)

var ErrIndex = errors.New("search indexing failed")

// SearchIndexer indexa los comentarios del reporte en Elasticsearch
type SearchIndexer struct {
	es     *elasticsearch.Client
	index  string
	logger *common.Logger
}

func NewSearchIndexer(ctx context.Context, url, index string, logger *common.Logger) (*SearchIndexer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Elasticsearch client: %w", ErrIndex, err)
	}

	res, err := es.Info(es.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get Elasticsearch info: %w", ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: elasticsearch returned error: %s", ErrIndex, res.String())
	}

	logger.WithStep("index").WithFields(logrus.Fields{"index": index}).Info("Connected to Elasticsearch")
	return &SearchIndexer{es: es, index: index, logger: logger}, nil
}

// IndexComments indexa cada comentario bajo su DocumentID; correr el reporte
// dos veces sobre la misma ventana sobrescribe en vez de duplicar. Un documento
// fallido no detiene al resto y los errores se devuelven unidos.
func (s *SearchIndexer) IndexComments(ctx context.Context, comments []models.Comment) (int, error) {
	indexed := 0
	var errs []error

	for _, comment := range comments {
		id := comment.DocumentID()
		if err := s.indexDocument(ctx, id, comment.Document()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		indexed++
	}

	s.logger.WithStep("index").WithFields(logrus.Fields{
		"index":   s.index,
		"indexed": indexed,
		"failed":  len(errs),
	}).Info("Comments indexed in Elasticsearch")

	if len(errs) > 0 {
		return indexed, fmt.Errorf("%w: %w", ErrIndex, errors.Join(errs...))
	}
	return indexed, nil
}

func (s *SearchIndexer) indexDocument(ctx context.Context, id string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := s.es.Index(
		s.index,
		bytes.NewReader(body),
		s.es.Index.WithDocumentID(id),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.String())
	}
	return nil
}

package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dinamicdatalab/comments-report/models"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishRunSummary(t *testing.T) {
	ch := &fakeChannel{}
	svc := NewRabbitMQServiceWithChannel(ch, "report_events", testLogger())

	run := testRun()
	run.EmailSent = true
	require.NoError(t, svc.PublishRunSummary(run))

	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, "", p.exchange)
	assert.Equal(t, "report_events", p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, run.RunID, p.msg.MessageId)

	var got models.RunSummary
	require.NoError(t, json.Unmarshal(p.msg.Body, &got))
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, 2, got.RecordsKept)
	assert.True(t, got.EmailSent)
	assert.Equal(t, []string{"url", "user", "created_at"}, got.Columns)

	svc.Close()
	assert.True(t, ch.closed)
}

func TestPublishRunSummaryFailure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel/connection is not open")}
	svc := NewRabbitMQServiceWithChannel(ch, "report_events", testLogger())

	err := svc.PublishRunSummary(testRun())
	require.ErrorIs(t, err, ErrPublish)
}

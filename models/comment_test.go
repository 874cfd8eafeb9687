package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var guayaquil = time.FixedZone("ECT", -5*60*60)

func fields(t *testing.T, raw string) Fields {
	t.Helper()
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return f
}

func TestCreatedAtCanonicalIsWallTimeInZone(t *testing.T) {
	f := fields(t, `{"created_at":"2024-05-02 17:00:00"}`)

	got, err := f.CreatedAt(guayaquil)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 2, 22, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-05-02 17:00:00", got.Format(CreatedAtLayout))
}

func TestCreatedAtRichTimestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"rfc3339 utc", `{"created_at":"2024-05-02T22:00:00Z"}`, "2024-05-02 17:00:00"},
		{"rfc3339 offset", `{"created_at":"2024-05-02T17:00:00-05:00"}`, "2024-05-02 17:00:00"},
		{"epoch seconds", `{"created_at":1714687200}`, "2024-05-02 17:00:00"},
		{"epoch millis", `{"created_at":1714687200000}`, "2024-05-02 17:00:00"},
		{"iso without zone", `{"created_at":"2024-05-02T17:00:00"}`, "2024-05-02 17:00:00"},
		{"iso without zone fractional", `{"created_at":"2024-05-02T17:00:00.250"}`, "2024-05-02 17:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fields(t, tt.raw).CreatedAt(guayaquil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format(CreatedAtLayout))
		})
	}
}

func TestCreatedAtInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"missing", `{"url":"https://x"}`, ErrCreatedAtMissing},
		{"null", `{"created_at":null}`, ErrCreatedAtType},
		{"bool", `{"created_at":true}`, ErrCreatedAtType},
		{"object", `{"created_at":{"$date":"2024-05-02"}}`, ErrCreatedAtType},
		{"array", `{"created_at":[2024,5,2]}`, ErrCreatedAtType},
		{"bad string", `{"created_at":"ayer en la tarde"}`, ErrCreatedAtFormat},
		{"date only", `{"created_at":"2024-05-02"}`, ErrCreatedAtFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fields(t, tt.raw).CreatedAt(guayaquil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValueRendering(t *testing.T) {
	f := fields(t, `{
		"text": "Excelente servicio, \"gracias\"",
		"comment_id": 1234567890123,
		"tweet_id": null,
		"user_profile": {"followers": 10, "verified": false},
		"clasificacion": true
	}`)

	assert.Equal(t, `Excelente servicio, "gracias"`, f.Value("text"))
	assert.Equal(t, "1234567890123", f.Value("comment_id"))
	assert.Equal(t, "", f.Value("tweet_id"))
	assert.Equal(t, "", f.Value("url"))
	assert.Equal(t, `{"followers":10,"verified":false}`, f.Value("user_profile"))
	assert.Equal(t, "true", f.Value("clasificacion"))
}

func TestDocumentIDPrefersPlatformIDs(t *testing.T) {
	at := time.Date(2024, 5, 2, 17, 0, 0, 0, guayaquil)

	withComment := Comment{Fields: fields(t, `{"comment_id":"c-1","tweet_id":"t-1"}`), CreatedAt: at}
	assert.Equal(t, "c-1", withComment.DocumentID())

	withTweet := Comment{Fields: fields(t, `{"comment_id":null,"tweet_id":99}`), CreatedAt: at}
	assert.Equal(t, "99", withTweet.DocumentID())

	anonymous := Comment{Fields: fields(t, `{"url":"https://x","text":"hola"}`), CreatedAt: at}
	assert.Equal(t, anonymous.Hash(), anonymous.DocumentID())
	assert.Len(t, anonymous.Hash(), 64)
}

func TestHashDependsOnContent(t *testing.T) {
	at := time.Date(2024, 5, 2, 17, 0, 0, 0, guayaquil)
	a := Comment{Fields: fields(t, `{"url":"https://x","text":"hola"}`), CreatedAt: at}
	b := Comment{Fields: fields(t, `{"url":"https://x","text":"hola","user":"otro"}`), CreatedAt: at}
	c := Comment{Fields: fields(t, `{"url":"https://x","text":"chao"}`), CreatedAt: at}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestDocumentNormalizesCreatedAt(t *testing.T) {
	c := Comment{
		Fields:    fields(t, `{"created_at":"2024-05-02 17:00:00","red_social":"facebook"}`),
		CreatedAt: time.Date(2024, 5, 2, 17, 0, 0, 0, guayaquil),
	}

	body, err := json.Marshal(c.Document())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "2024-05-02T17:00:00-05:00", doc["created_at"])
	assert.Equal(t, "facebook", doc["red_social"])
	assert.Equal(t, c.Hash(), doc["comment_hash"])
}

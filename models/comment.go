package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CreatedAtLayout es el formato canónico de created_at: "2024-05-02 17:00:00"
const CreatedAtLayout = "2006-01-02 15:04:05"

// AllowedFields son las columnas permitidas en el CSV, en orden de salida
var AllowedFields = []string{
	"url",
	"text",
	"comment",
	"user",
	"user_profile",
	"created_at",
	"clasificacion",
	"red_social",
	"comment_id",
	"tweet_id",
}

var (
	ErrCreatedAtMissing = errors.New("created_at missing")
	ErrCreatedAtType    = errors.New("created_at is neither a string nor a timestamp")
	ErrCreatedAtFormat  = errors.New("created_at has an unrecognized format")
)

// Fields es un comentario tal como viene en all_comments.json. Los valores
// conservan su JSON para que números y objetos se escriban sin cambios.
type Fields map[string]json.RawMessage

func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// CreatedAt decodifica created_at en loc. Los textos sin zona se leen como
// hora local de loc; RFC 3339 y epoch Unix se convierten a loc.
func (f Fields) CreatedAt(loc *time.Location) (time.Time, error) {
	raw, ok := f["created_at"]
	if !ok {
		return time.Time{}, ErrCreatedAtMissing
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return time.Time{}, ErrCreatedAtMissing
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrCreatedAtFormat, err)
		}
		return parseCreatedAtString(strings.TrimSpace(s), loc)
	case c == '-' || (c >= '0' && c <= '9'):
		return parseEpoch(string(raw), loc)
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrCreatedAtType, truncate(string(raw), 40))
	}
}

// isoLocalLayout es ISO 8601 sin zona; se lee como hora local igual que el canónico
const isoLocalLayout = "2006-01-02T15:04:05"

func parseCreatedAtString(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{CreatedAtLayout, isoLocalLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrCreatedAtFormat, s)
}

// parseEpoch acepta segundos o milisegundos; sobre 1e11 se asume milisegundos
func parseEpoch(s string, loc *time.Location) (time.Time, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= 1e15 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrCreatedAtFormat, s)
	}
	if math.Abs(v) >= 1e11 {
		return time.UnixMilli(int64(v)).In(loc), nil
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).In(loc), nil
}

// Value arma la celda CSV de un campo; ausente o null queda vacío
func (f Fields) Value(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw)
		}
		return s
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	default:
		return string(raw)
	}
}

// Comment es un comentario que pasó el filtro de la ventana
type Comment struct {
	Fields    Fields
	CreatedAt time.Time
}

func (c Comment) CreatedAtString() string {
	return c.CreatedAt.Format(CreatedAtLayout)
}

// Hash identifica el comentario entre corridas (url, fecha, texto y comentario)
func (c Comment) Hash() string {
	key := strings.Join([]string{
		c.Fields.Value("url"),
		c.CreatedAtString(),
		c.Fields.Value("text"),
		c.Fields.Value("comment"),
	}, "\x1f")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DocumentID prefiere el id de la red social para que reindexar sobrescriba
func (c Comment) DocumentID() string {
	for _, key := range []string{"comment_id", "tweet_id"} {
		if id := c.Fields.Value(key); id != "" {
			return id
		}
	}
	return c.Hash()
}

// Document es el cuerpo enviado al índice: los campos originales más
// created_at normalizado
func (c Comment) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(c.Fields)+1)
	for k, v := range c.Fields {
		doc[k] = v
	}
	doc["created_at"] = c.CreatedAt.Format(time.RFC3339)
	doc["comment_hash"] = c.Hash()
	return doc
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPreservesInsertionOrder(t *testing.T) {
	rec := NewRecord()
	rec.Set("zeta", 1)
	rec.Set("alpha", "a")
	rec.Set("zeta", 2)

	assert.Equal(t, []string{"zeta", "alpha"}, rec.Keys())
	value, ok := rec.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, 2, value)

	encoded, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":2,"alpha":"a"}`, string(encoded))
	assert.Equal(t, `{"zeta":2,"alpha":"a"}`, string(encoded))
}

func TestRecordUnmarshalKeepsDocumentOrder(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"userId":1,"id":7,"title":"<b>x</b>","score":1.5,"tags":["a"]}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"userId", "id", "title", "score", "tags"}, rec.Keys())

	id, _ := rec.Get("id")
	assert.Equal(t, int64(7), id)
	score, _ := rec.Get("score")
	assert.Equal(t, 1.5, score)

	encoded, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"<b>x</b>"`)
}

func TestRecordUnmarshalRejectsNonObject(t *testing.T) {
	var rec Record
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &rec))
}

func TestRecordsFromJSON(t *testing.T) {
	records, err := RecordsFromJSON([]byte(`[{"a":1},"plain",3]`))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"a"}, records[0].Keys())
	value, _ := records[1].Get(ValueKey)
	assert.Equal(t, "plain", value)
	value, _ = records[2].Get(ValueKey)
	assert.Equal(t, int64(3), value)

	single, err := RecordsFromJSON([]byte(`{"only":true}`))
	require.NoError(t, err)
	require.Len(t, single, 1)

	_, err = RecordsFromJSON([]byte("  "))
	assert.Error(t, err)
}

func TestScrapedRecordFlatten(t *testing.T) {
	at := time.Date(2025, 11, 4, 13, 9, 13, 0, time.FixedZone("BRT", -3*3600))
	scraped := &ScrapedRecord{
		URL:       "http://example.test/",
		ScrapedAt: at,
		Fields:    []Field{{Name: "title", Value: "Hello"}, {Name: "author", Value: "pg"}, {Name: "url", Value: "shadowed"}},
	}

	rec := scraped.Record()
	assert.Equal(t, []string{"title", "author", "url", "scraped_at"}, rec.Keys())
	url, _ := rec.Get("url")
	assert.Equal(t, "http://example.test/", url)
	assert.Equal(t, "pg", scraped.Field("author"))
	assert.Empty(t, scraped.Field("score"))
	stamp, _ := rec.Get("scraped_at")
	assert.Equal(t, "2025-11-04T16:09:13Z", stamp)
}

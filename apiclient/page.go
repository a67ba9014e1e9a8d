package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-harvest/models"
)

// ErrUnexpectedShape is returned for a page body that is neither a list,
// an object, nor a falsy scalar.
var ErrUnexpectedShape = errors.New("apiclient: unexpected page shape")

// PageKind tags the shape a page body was decoded as.
type PageKind int

const (
	// PageEmpty is a falsy body ({}, [], null, false, 0, ""). It carries no records.
	PageEmpty PageKind = iota
	// PageList is a top-level JSON array.
	PageList
	// PageData is an object holding its records under "data".
	PageData
	// PageResults is an object holding its records under "results".
	PageResults
	// PageSingleton is any other object, kept whole as one record.
	PageSingleton
)

func (k PageKind) String() string {
	switch k {
	case PageEmpty:
		return "empty"
	case PageList:
		return "list"
	case PageData:
		return "data"
	case PageResults:
		return "results"
	case PageSingleton:
		return "singleton"
	}
	return fmt.Sprintf("PageKind(%d)", int(k))
}

// Page is one decoded API response.
type Page struct {
	Kind    PageKind
	Records []*models.Record
	// HasMore is the page's own continuation verdict.
	HasMore bool
}

// DecodePage classifies body. The checks run in a fixed order: array, then
// an object with "data", then an object with "results", then any other
// object. Each variant carries its own continuation rule:
//
//	list:      continue while the array is non-empty
//	data:      continue unless "has_next" is present and falsy
//	results:   continue only if "next" is present and truthy
//	singleton: never continue
func DecodePage(body []byte) (Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page{Kind: PageEmpty}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page{}, fmt.Errorf("decode list page: %w", err)
		}
		if len(items) == 0 {
			return Page{Kind: PageEmpty}, nil
		}
		records, err := toRecords(items)
		if err != nil {
			return Page{}, err
		}
		return Page{Kind: PageList, Records: records, HasMore: true}, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return Page{}, fmt.Errorf("decode object page: %w", err)
		}
		if len(fields) == 0 {
			return Page{Kind: PageEmpty}, nil
		}

		if raw, ok := fields["data"]; ok {
			records, err := wrappedRecords("data", raw)
			if err != nil {
				return Page{}, err
			}
			hasMore := true
			if flag, ok := fields["has_next"]; ok {
				hasMore = truthy(flag)
			}
			return Page{Kind: PageData, Records: records, HasMore: hasMore}, nil
		}

		if raw, ok := fields["results"]; ok {
			records, err := wrappedRecords("results", raw)
			if err != nil {
				return Page{}, err
			}
			next, ok := fields["next"]
			return Page{Kind: PageResults, Records: records, HasMore: ok && truthy(next)}, nil
		}

		record, err := models.RecordFromJSON(trimmed)
		if err != nil {
			return Page{}, fmt.Errorf("decode singleton page: %w", err)
		}
		return Page{Kind: PageSingleton, Records: []*models.Record{record}}, nil
	}

	if !json.Valid(trimmed) {
		return Page{}, fmt.Errorf("decode page: invalid JSON")
	}
	if !truthy(trimmed) {
		return Page{Kind: PageEmpty}, nil
	}
	return Page{}, fmt.Errorf("%w: top-level %s", ErrUnexpectedShape, trimmed)
}

// wrappedRecords unpacks the value under a "data" or "results" key. Arrays
// contribute their elements, null contributes nothing and an object is one
// record.
func wrappedRecords(key string, raw json.RawMessage) ([]*models.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		return toRecords(items)
	case '{':
		record, err := models.RecordFromJSON(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		return []*models.Record{record}, nil
	}
	return nil, fmt.Errorf("%w: %q holds %s", ErrUnexpectedShape, key, trimmed)
}

func toRecords(items []json.RawMessage) ([]*models.Record, error) {
	out := make([]*models.Record, 0, len(items))
	for i, item := range items {
		record, err := models.RecordFromJSON(item)
		if err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		out = append(out, record)
	}
	return out, nil
}

// truthy follows JSON truthiness: null, false, zero, "" and empty
// containers are false.
func truthy(raw json.RawMessage) bool {
	value, err := models.DecodeValue(raw)
	if err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

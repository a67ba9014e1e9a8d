package pipeline

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/aluiziolira/go-harvest/models"
	"gonum.org/v1/gonum/stat"
)

// Column type names.
const (
	TypeInt64  = "int64"
	TypeFloat  = "float64"
	TypeBool   = "bool"
	TypeObject = "object"
)

const mostCommonLimit = 5

// Summary describes a set of records column by column.
type Summary struct {
	TotalRecords  int                     `json:"total_records"`
	Columns       []string                `json:"columns"`
	DataTypes     map[string]string       `json:"data_types"`
	MissingValues map[string]int          `json:"missing_values"`
	TextFields    map[string]*TextSummary `json:"text_fields,omitempty"`

	NumericSummary map[string]*NumericSummary `json:"numeric_summary,omitempty"`
	// Correlation is nil when fewer than two numeric columns exist.
	Correlation *CorrelationMatrix `json:"correlation_matrix,omitempty"`
}

// NumericSummary is the describe() view of a numeric column, computed over
// its present values. Quantiles interpolate linearly between order
// statistics.
type NumericSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	// Std is the sample standard deviation; nil with fewer than two values.
	Std *float64 `json:"std"`
	Min float64  `json:"min"`
	P25 float64  `json:"25%"`
	P50 float64  `json:"50%"`
	P75 float64  `json:"75%"`
	Max float64  `json:"max"`
}

// CorrelationMatrix holds Pearson coefficients between numeric columns.
// Values[i][j] pairs Columns[i] with Columns[j] over the rows where both
// are present; nil marks an undefined coefficient.
type CorrelationMatrix struct {
	Columns []string     `json:"columns"`
	Values  [][]*float64 `json:"values"`
}

// TextSummary describes an object-typed column.
type TextSummary struct {
	UniqueValues int          `json:"unique_values"`
	MostCommon   []ValueCount `json:"most_common"`
	// AverageLength is the mean length in characters of the string values;
	// nil when the column holds no strings.
	AverageLength *float64 `json:"average_length"`
}

// ValueCount pairs a rendered value with its number of occurrences.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Analyze summarises records. Columns are the union of field names in
// first-seen order; an absent field or a nil value counts as missing.
// Empty input yields a zero Summary.
func Analyze(records []*models.Record) Summary {
	var rows []*models.Record
	for _, r := range records {
		if r != nil {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return Summary{}
	}

	summary := Summary{
		TotalRecords:  len(rows),
		DataTypes:     make(map[string]string),
		MissingValues: make(map[string]int),
	}
	seen := make(map[string]struct{})
	for _, r := range rows {
		for _, key := range r.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			summary.Columns = append(summary.Columns, key)
		}
	}

	var numericColumns []string
	numeric := make(map[string][]float64)

	for _, column := range summary.Columns {
		values := make([]any, 0, len(rows))
		missing := 0
		for _, r := range rows {
			value, ok := r.Get(column)
			if !ok || value == nil {
				missing++
				continue
			}
			values = append(values, value)
		}

		kind := inferType(values, missing)
		summary.DataTypes[column] = kind
		summary.MissingValues[column] = missing
		if kind == TypeObject {
			if summary.TextFields == nil {
				summary.TextFields = make(map[string]*TextSummary)
			}
			summary.TextFields[column] = summariseText(values)
		}
		if kind == TypeInt64 || kind == TypeFloat {
			aligned := alignedFloats(rows, column)
			numericColumns = append(numericColumns, column)
			numeric[column] = aligned
			if summary.NumericSummary == nil {
				summary.NumericSummary = make(map[string]*NumericSummary)
			}
			summary.NumericSummary[column] = describe(aligned)
		}
	}
	summary.Correlation = correlate(numericColumns, numeric)
	return summary
}

// alignedFloats returns one value per row, NaN where the column is missing.
func alignedFloats(rows []*models.Record, column string) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		value, _ := r.Get(column)
		switch v := value.(type) {
		case int:
			out[i] = float64(v)
		case int64:
			out[i] = float64(v)
		case float64:
			out[i] = v
		default:
			out[i] = math.NaN()
		}
	}
	return out
}

func present(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func describe(column []float64) *NumericSummary {
	values := present(column)
	if len(values) == 0 {
		return &NumericSummary{}
	}
	sort.Float64s(values)

	mean, std := stat.MeanStdDev(values, nil)
	out := &NumericSummary{
		Count: len(values),
		Mean:  mean,
		Min:   values[0],
		P25:   quantile(values, 0.25),
		P50:   quantile(values, 0.50),
		P75:   quantile(values, 0.75),
		Max:   values[len(values)-1],
	}
	if len(values) > 1 {
		out.Std = &std
	}
	return out
}

// quantile interpolates linearly at rank p*(n-1) of the sorted values.
func quantile(sorted []float64, p float64) float64 {
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func correlate(columns []string, data map[string][]float64) *CorrelationMatrix {
	if len(columns) < 2 {
		return nil
	}
	m := &CorrelationMatrix{
		Columns: columns,
		Values:  make([][]*float64, len(columns)),
	}
	for i := range columns {
		m.Values[i] = make([]*float64, len(columns))
	}
	for i, a := range columns {
		for j := i; j < len(columns); j++ {
			r := pearson(data[a], data[columns[j]])
			m.Values[i][j] = r
			m.Values[j][i] = r
		}
	}
	return m
}

// pearson correlates x and y over the rows where both are present.
func pearson(x, y []float64) *float64 {
	var xs, ys []float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return nil
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	return &r
}

// inferType mirrors how a dataframe would type the column: integers with
// gaps widen to float64, booleans with gaps fall back to object.
func inferType(values []any, missing int) string {
	if len(values) == 0 {
		return TypeObject
	}
	ints, floats, bools := 0, 0, 0
	for _, v := range values {
		switch v.(type) {
		case int, int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		}
	}
	switch {
	case ints == len(values) && missing == 0:
		return TypeInt64
	case ints+floats == len(values):
		return TypeFloat
	case bools == len(values) && missing == 0:
		return TypeBool
	}
	return TypeObject
}

func summariseText(values []any) *TextSummary {
	counts := make(map[string]int)
	var order []string
	totalLen, strCount := 0, 0
	for _, v := range values {
		key := renderValue(v)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
		if s, ok := v.(string); ok {
			totalLen += utf8.RuneCountInString(s)
			strCount++
		}
	}

	ranked := make([]ValueCount, 0, len(order))
	for _, key := range order {
		ranked = append(ranked, ValueCount{Value: key, Count: counts[key]})
	}
	// Stable sort keeps first appearance as the tie-break.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > mostCommonLimit {
		ranked = ranked[:mostCommonLimit]
	}

	out := &TextSummary{
		UniqueValues: len(order),
		MostCommon:   ranked,
	}
	if strCount > 0 {
		avg := float64(totalLen) / float64(strCount)
		out.AverageLength = &avg
	}
	return out
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	if cell, err := formatCell(v); err == nil {
		return cell
	}
	return fmt.Sprint(v)
}

package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"go.yaml.in/yaml/v3"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// Output formats accepted by the scrape command.
const (
	formatJSONL = "jsonl"
	formatCSV   = "csv"
	formatYAML  = "yaml"
)

// queryRecords is the records produced for one query.
type queryRecords struct {
	Query   string          `json:"query" yaml:"query"`
	Records []scrape.Record `json:"results" yaml:"results"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

var csvHeader = []string{
	"query", "name", "address", "phone", "website", "rating",
	"review_count", "category", "latitude", "longitude", "url",
}

// writeResults renders results in format. JSON lines and CSV emit one row per
// record tagged with its query; YAML emits one document listing every query.
func writeResults(w io.Writer, format string, results []queryRecords) error {
	switch format {
	case formatJSONL, "":
		return writeJSONLines(w, results)
	case formatCSV:
		return writeCSV(w, results)
	case formatYAML:
		return writeYAML(w, results)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSONLines(w io.Writer, results []queryRecords) error {
	enc := json.NewEncoder(w)
	type line struct {
		Query string `json:"query"`
		scrape.Record
	}
	for _, res := range results {
		for _, rec := range res.Records {
			if err := enc.Encode(line{Query: res.Query, Record: rec}); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
		}
	}
	return nil
}

func writeCSV(w io.Writer, results []queryRecords) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, res := range results {
		for _, rec := range res.Records {
			row := []string{
				res.Query,
				rec.Name,
				rec.Address,
				rec.Phone,
				rec.Website,
				formatFloat(rec.Rating),
				strconv.Itoa(rec.ReviewCount),
				rec.Category,
				formatFloat(rec.Latitude),
				formatFloat(rec.Longitude),
				rec.URL,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, results []queryRecords) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close yaml encoder: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

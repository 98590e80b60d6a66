package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/rwilli/localweather/internal/types"
)

// Artifacts carry no generation timestamp: two runs over the same samples
// must produce byte-identical files.

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="report.css">
</head>
<body>
<h1>{{.Title}}</h1>
<p>Period: {{.PeriodStart}} &ndash; {{.PeriodEnd}}</p>
{{if .Channels}}
<h2>Summary</h2>
<table>
<tr><th>Channel</th><th>Unit</th><th>Min</th><th>Max</th><th>Avg</th><th>Samples</th></tr>
{{range .Channels}}<tr><td>{{.Channel}}</td><td>{{.Unit}}</td><td>{{printf "%.2f" .Stats.Min}}</td><td>{{printf "%.2f" .Stats.Max}}</td><td>{{printf "%.2f" .Stats.Avg}}</td><td>{{.Stats.Count}}</td></tr>
{{end}}</table>
{{range .Buckets}}
<h2>{{.Label}}</h2>
<table>
<tr><th>Channel</th><th>Min</th><th>Max</th><th>Avg</th></tr>
{{range .Channels}}<tr><td>{{.Channel}}</td><td>{{printf "%.2f" .Stats.Min}}</td><td>{{printf "%.2f" .Stats.Max}}</td><td>{{printf "%.2f" .Stats.Avg}}</td></tr>
{{end}}</table>
{{end}}
{{else}}
<p>No samples recorded in this period.</p>
{{end}}
</body>
</html>
`))

var familyTitles = map[types.SensorFamily]string{
	types.FamilyTempHumidity: "Temperature & Humidity",
	types.FamilyWind:         "Wind",
}

type reportView struct {
	Title       string
	PeriodStart string
	PeriodEnd   string
	Channels    []types.ChannelStats
	Buckets     []bucketView
}

type bucketView struct {
	Label    string
	Channels []types.ChannelStats
}

// bucketLabelFormat picks the heading granularity per period kind.
func bucketLabelFormat(kind types.PeriodKind) string {
	switch kind {
	case types.PeriodDay:
		return "2006-01-02 15:04"
	case types.PeriodYear:
		return "2006-01"
	default:
		return "2006-01-02"
	}
}

// ArtifactBase returns the artifact file name (without extension) for one
// (family, period kind) pair.
func ArtifactBase(family types.SensorFamily, kind types.PeriodKind) string {
	return fmt.Sprintf("report_%s_%s", family, kind)
}

// writeArtifacts renders the HTML page and its JSON sidecar, replacing any
// previous artifact for the same (family, period kind) atomically.
func (a *Aggregator) writeArtifacts(agg *types.PeriodAggregate) error {
	if err := os.MkdirAll(a.cfg.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("could not create reports dir: %w", err)
	}

	base := ArtifactBase(agg.Family, agg.Period)

	view := reportView{
		Title:       fmt.Sprintf("%s, current %s", familyTitles[agg.Family], agg.Period),
		PeriodStart: agg.PeriodStart.Format("2006-01-02 15:04"),
		PeriodEnd:   agg.PeriodEnd.Format("2006-01-02 15:04"),
		Channels:    agg.Channels,
	}
	labelFormat := bucketLabelFormat(agg.Period)
	for _, b := range agg.Buckets {
		view.Buckets = append(view.Buckets, bucketView{
			Label:    b.Start.Format(labelFormat),
			Channels: b.Channels,
		})
	}

	var html bytes.Buffer
	if err := reportTemplate.Execute(&html, view); err != nil {
		return fmt.Errorf("could not render report: %w", err)
	}
	if err := writeAtomic(a.cfg.ReportsDir, base+".html", html.Bytes()); err != nil {
		return err
	}

	sidecar, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode report sidecar: %w", err)
	}
	return writeAtomic(a.cfg.ReportsDir, base+".json", append(sidecar, '\n'))
}

// writeAtomic writes data to a temporary file in the target directory and
// renames it into place, so a concurrent reader of the previous artifact
// never observes a partial write.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not move artifact into place: %w", err)
	}
	return nil
}

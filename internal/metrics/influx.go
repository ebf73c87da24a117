package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacktag/stacktag/internal/logging"
)

// InfluxTarget describes an InfluxDB v2 write endpoint.
type InfluxTarget struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

var influxHTTPClient = &http.Client{Timeout: 5 * time.Second}

// PushInflux writes the current snapshot to InfluxDB once. CLI runs are
// short-lived, so there is no background ticker.
func PushInflux(ctx context.Context, t InfluxTarget, now time.Time) error {
	if t.URL == "" || t.Bucket == "" {
		return nil
	}
	writeURL := fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=s",
		strings.TrimRight(t.URL, "/"), url.QueryEscape(t.Org), url.QueryEscape(t.Bucket))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader([]byte(lineProtocol(GetSnapshot(), now))))
	if err != nil {
		return fmt.Errorf("influxdb request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.Token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := influxHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("influxdb push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influxdb rejected metrics: status %d", resp.StatusCode)
	}
	logging.Get().Debug().Str("url", t.URL).Msg("pushed metrics to influxdb")
	return nil
}

// lineProtocol renders s as one InfluxDB line:
// measurement field=value,... timestamp
func lineProtocol(s StatsSnapshot, now time.Time) string {
	return fmt.Sprintf(
		"stacktag taggers_succeeded=%di,taggers_failed=%di,tagger_fallbacks=%di,images_tagged=%di,smoke_units_failed=%di,last_run=%di %d",
		s.TaggersSucceeded, s.TaggersFailed, s.TaggerFallbacks, s.ImagesTagged, s.SmokeUnitsFailed, s.LastRun, now.Unix(),
	)
}

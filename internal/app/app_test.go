package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/app"
	"github.com/JakeFAU/places-scraper/internal/config"
	"github.com/JakeFAU/places-scraper/internal/scrape"
	"github.com/JakeFAU/places-scraper/internal/scrape/scrapetest"
)

// MockRecordSink mocks the scrape.RecordSink interface.
type MockRecordSink struct {
	mock.Mock
}

// WriteRecords satisfies the scrape.RecordSink interface for the mock.
func (m *MockRecordSink) WriteRecords(ctx context.Context, jobID string, records []scrape.Record) error {
	args := m.Called(ctx, jobID, records)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Browser: config.BrowserConfig{MaxBrowsers: 1, AcquirePollMs: 10},
		Discovery: config.DiscoveryConfig{
			InitialWaitSeconds: 1,
			StableThreshold:    1,
		},
		Extraction: config.ExtractionConfig{
			ItemTimeoutSeconds: 5,
			DefaultWorkers:     2,
			MaxWorkers:         4,
			OvershootFactor:    2,
			DefaultMaxResults:  3,
			MaxResultsLimit:    10,
		},
		Admission: config.AdmissionConfig{MaxConcurrency: 2},
		Bulk:      config.BulkConfig{BatchSize: 2, MaxQueries: 5},
	}
}

// placesPage serves a results feed of n places and the detail page of each.
func placesPage(n int) func() *scrapetest.Page {
	return func() *scrapetest.Page {
		links := make([]string, 0, n)
		fields := make(map[string]map[string]string, n)
		for i := 0; i < n; i++ {
			link := fmt.Sprintf("https://maps.test/maps/place/p%d/@1.5,2.5,17z", i)
			links = append(links, link)
			fields[link] = map[string]string{
				"h1": fmt.Sprintf("Place %d", i),
				`button[data-item-id^="phone:tel:"]`: fmt.Sprintf("555-000%d", i),
			}
		}
		return &scrapetest.Page{Batches: [][]string{links}, Fields: fields}
	}
}

func TestBuildRunsSyncScrapeEndToEnd(t *testing.T) {
	factory := &scrapetest.Factory{NewPage: placesPage(6)}
	a, err := app.Build(context.Background(), testConfig(), zap.NewNop(), app.WithResourceFactory(factory))
	require.NoError(t, err)
	defer a.Close()

	records, err := a.Service().RunSync(context.Background(), "coffee", scrape.RunParams{MaxResults: 4, Workers: 2})
	require.NoError(t, err)
	require.Len(t, records, 4)
	seen := map[string]bool{}
	for _, rec := range records {
		require.False(t, seen[rec.DedupKey()])
		seen[rec.DedupKey()] = true
		require.InDelta(t, 1.5, rec.Latitude, 1e-9)
	}
	require.Equal(t, 1, factory.Created())
}

func TestBuildServesAsyncJobsAndSinksRecords(t *testing.T) {
	factory := &scrapetest.Factory{NewPage: placesPage(2)}
	sink := &MockRecordSink{}
	written := make(chan struct{}, 1)
	sink.On("WriteRecords", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(mock.Arguments) { written <- struct{}{} }).
		Return(nil).Once()

	a, err := app.Build(context.Background(), testConfig(), zap.NewNop(),
		app.WithResourceFactory(factory), app.WithRecordSink(sink))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	id, err := a.Service().SubmitAsync(ctx, "coffee", scrape.RunParams{MaxResults: 2, Workers: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := a.Service().GetStatus(ctx, id)
		return err == nil && job.Status == scrape.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, err := a.Service().GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, job.ResultCount)
	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("record sink was not called")
	}
	sink.AssertExpectations(t)
}

func TestBuildHandlerServesReadiness(t *testing.T) {
	a, err := app.Build(context.Background(), testConfig(), zap.NewNop(),
		app.WithResourceFactory(&scrapetest.Factory{}))
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"max_concurrency":2`))
}

func TestBuildRejectsInvalidPool(t *testing.T) {
	cfg := testConfig()
	cfg.Browser.MaxBrowsers = 0
	_, err := app.Build(context.Background(), cfg, zap.NewNop(), app.WithResourceFactory(&scrapetest.Factory{}))
	require.Error(t, err)
}

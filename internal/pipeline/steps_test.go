package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geoscrape/geoscrape/internal/crawler"
	"github.com/geoscrape/geoscrape/internal/model"
	"github.com/geoscrape/geoscrape/internal/wikimapia"
)

// placePageHTML renders a minimal place page. An empty coords string
// leaves the coordinates label out entirely.
func placePageHTML(title, coords string, photos ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="page-content">`)
	b.WriteString(`<h1>` + title + `</h1>`)
	if coords != "" {
		b.WriteString(`<b>Coordinates:</b> ` + coords)
	}
	b.WriteString(`<address>Testland / Region / Town</address>`)
	for _, photo := range photos {
		b.WriteString(`<img src="` + photo + `">`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// newPlaceServer serves a handful of place pages:
//
//	/1234567/chain-bridge  a complete place with coordinates
//	/7654321/broken-place  always responds 500
//	/1111111/hidden-cafe   no coordinates, one photo
//	/photos/cafe.jpg       bytes that are not a real photo
func newPlaceServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/1234567/chain-bridge", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, placePageHTML("Chain Bridge", "47.4979 19.0402"))
	})
	mux.HandleFunc("/7654321/broken-place", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})
	mux.HandleFunc("/1111111/hidden-cafe", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, placePageHTML("Hidden Cafe", "", "/photos/cafe.jpg"))
	})
	mux.HandleFunc("/photos/cafe.jpg", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "not a real photo")
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// newStepFetcher builds a quiet fetcher suitable for step tests.
func newStepFetcher(server *httptest.Server) *crawler.Fetcher {
	return crawler.NewFetcher(server.Client(),
		crawler.WithDelay(0),
		crawler.WithMaxRetries(0),
		crawler.WithFetchLogger(discardLogger()))
}

// newTestAPIClient builds an API client pointed at the test server.
func newTestAPIClient(server *httptest.Server) (*wikimapia.APIClient, error) {
	return wikimapia.NewAPIClient(server.Client(), server.URL, "example", "en")
}

// collectSink is a FeatureWriter that collects features in memory.
type collectSink struct {
	mu       sync.Mutex
	features []*model.Feature
	closed   bool
}

func (c *collectSink) WriteFeature(_ context.Context, feature *model.Feature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features = append(c.features, feature)
	return nil
}

func (c *collectSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.features)
}

// failSink is a FeatureWriter whose writes always fail.
type failSink struct {
	err error
}

func (f *failSink) WriteFeature(context.Context, *model.Feature) error {
	return f.err
}

func (f *failSink) Close() error {
	return nil
}

// TestCacheCheckStep tests the cache freshness check step.
func TestCacheCheckStep(t *testing.T) {
	t.Parallel()

	t.Run("nil store is a no-op", func(t *testing.T) {
		t.Parallel()

		step := NewCacheCheckStep(nil, time.Hour, false,
			WithCacheCheckLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.SkippedByCache {
			t.Error("no-op check must not mark the run skipped")
		}
	})

	t.Run("nil store is a no-op in force mode too", func(t *testing.T) {
		t.Parallel()

		step := NewCacheCheckStep(nil, time.Hour, true,
			WithCacheCheckLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// TestIndexStep tests the TTL index maintenance step.
func TestIndexStep(t *testing.T) {
	t.Parallel()

	t.Run("nil store is a no-op", func(t *testing.T) {
		t.Parallel()

		step := NewIndexStep(nil, time.Hour, WithIndexLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// TestCatalogStep tests the catalog walk step.
func TestCatalogStep(t *testing.T) {
	t.Parallel()

	// catalogPageHTML renders a minimal catalog page listing the links.
	catalogPageHTML := func(links ...string) string {
		var b strings.Builder
		b.WriteString(`<html><body><div id="content"><div class="span3"><ul>`)
		for _, link := range links {
			b.WriteString(`<li><a href="` + link + `">item</a></li>`)
		}
		b.WriteString(`</ul></div></div></body></html>`)
		return b.String()
	}

	t.Run("collects place links into the report", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("/country/Testland/", func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("page") {
			case "", "1":
				fmt.Fprint(w, catalogPageHTML("/1234567/place-one", "/7654321/place-two"))
			case "2":
				fmt.Fprint(w, catalogPageHTML("/1111111/place-three", "/1234567/place-one"))
			default:
				fmt.Fprint(w, catalogPageHTML())
			}
		})
		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)

		step := NewCatalogStep(newStepFetcher(server), server.URL,
			WithCatalogDepth(0),
			WithCatalogMaxPages(3),
			WithCatalogLogger(discardLogger()))

		report := model.NewRunReport("Testland")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to walk catalog: %v", err)
		}

		if report.PlacesFound != 3 {
			t.Errorf("expected 3 places, got %d", report.PlacesFound)
		}
		if len(report.PlaceURLs) != 3 {
			t.Fatalf("expected 3 place URLs, got %d", len(report.PlaceURLs))
		}
		for _, placeURL := range report.PlaceURLs {
			if !strings.HasPrefix(placeURL, server.URL) {
				t.Errorf("place URL %q is not absolute", placeURL)
			}
		}
		if report.CatalogPages == 0 {
			t.Error("expected catalog pages to be recorded")
		}
	})

	t.Run("missing country fails the step", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(server.Close)

		step := NewCatalogStep(newStepFetcher(server), server.URL,
			WithCatalogLogger(discardLogger()))

		report := model.NewRunReport("Nowhere")
		err := step.Do(context.Background(), report)
		if !errors.Is(err, crawler.ErrCountryNotFound) {
			t.Errorf("expected ErrCountryNotFound, got %v", err)
		}
	})
}

// TestScrapeStep tests the place scraping step.
func TestScrapeStep(t *testing.T) {
	t.Parallel()

	t.Run("scrapes places and streams features", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithScrapeWorkers(1),
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{
			server.URL + "/1234567/chain-bridge",
			server.URL + "/7654321/broken-place",
		})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to scrape: %v", err)
		}

		if report.FeaturesScraped != 1 {
			t.Errorf("expected 1 feature scraped, got %d", report.FeaturesScraped)
		}
		if report.FailureCount() != 1 {
			t.Errorf("expected 1 failure, got %d", report.FailureCount())
		}
		if sink.count() != 1 {
			t.Fatalf("expected 1 feature in sink, got %d", sink.count())
		}

		feature := sink.features[0]
		if feature.Properties.Title != "Chain Bridge" {
			t.Errorf("got title %q, expected %q", feature.Properties.Title, "Chain Bridge")
		}
		if !feature.HasCoordinates() {
			t.Error("expected feature to have coordinates")
		}
		if feature.Properties.RunID != report.RunID {
			t.Errorf("feature run ID %q does not match report run ID %q",
				feature.Properties.RunID, report.RunID)
		}
		if feature.Properties.ScrapedAt.IsZero() {
			t.Error("expected feature to carry a scrape timestamp")
		}
	})

	t.Run("no place urls is a no-op", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sink.count() != 0 {
			t.Errorf("expected empty sink, got %d features", sink.count())
		}
	})

	t.Run("writes coordinate-less features when holding is off", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{server.URL + "/1111111/hidden-cafe"})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to scrape: %v", err)
		}

		if sink.count() != 1 {
			t.Fatalf("expected 1 feature in sink, got %d", sink.count())
		}
		if report.CoordinatesMissing != 1 {
			t.Errorf("expected 1 coordinate-less feature, got %d", report.CoordinatesMissing)
		}
		if len(report.TakeHeld()) != 0 {
			t.Error("nothing should be parked when holding is off")
		}
	})

	t.Run("parks coordinate-less features with photos when holding is on", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithHoldForEnrichment(true),
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{server.URL + "/1111111/hidden-cafe"})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to scrape: %v", err)
		}

		if sink.count() != 0 {
			t.Errorf("parked features must not reach the sink, got %d", sink.count())
		}
		if report.FeaturesScraped != 0 {
			t.Errorf("parked features must not be counted, got %d", report.FeaturesScraped)
		}

		held := report.TakeHeld()
		if len(held) != 1 {
			t.Fatalf("expected 1 parked feature, got %d", len(held))
		}
		if held[0].Feature.Properties.Title != "Hidden Cafe" {
			t.Errorf("got title %q, expected %q", held[0].Feature.Properties.Title, "Hidden Cafe")
		}
		expectedPhoto := server.URL + "/photos/cafe.jpg"
		if len(held[0].PhotoURLs) != 1 || held[0].PhotoURLs[0] != expectedPhoto {
			t.Errorf("got photo URLs %v, expected [%s]", held[0].PhotoURLs, expectedPhoto)
		}
	})

	t.Run("places with coordinates are never parked", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithHoldForEnrichment(true),
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{server.URL + "/1234567/chain-bridge"})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to scrape: %v", err)
		}

		if sink.count() != 1 {
			t.Errorf("expected 1 feature in sink, got %d", sink.count())
		}
		if len(report.TakeHeld()) != 0 {
			t.Error("a feature with coordinates must not be parked")
		}
	})

	t.Run("sink errors fail the run", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &failSink{err: errors.New("disk full")}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithScrapeLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{server.URL + "/1234567/chain-bridge"})

		err := step.Do(context.Background(), report)
		if err == nil {
			t.Fatal("expected error from failing sink")
		}
		if !strings.Contains(err.Error(), "failed to write feature") {
			t.Errorf("unexpected error message: %v", err)
		}
	})

	t.Run("api mode fetches place details from the api", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("function") != "place.getbyid" {
				http.NotFound(w, r)
				return
			}
			if id := r.URL.Query().Get("id"); id != "1234567" {
				t.Errorf("got place id %q, expected %q", id, "1234567")
			}
			fmt.Fprint(w, `{
				"title": "Api Fort",
				"polygon": [{"x": 19.0, "y": 47.0}, {"x": 19.1, "y": 47.0}, {"x": 19.1, "y": 47.1}],
				"location": {"lat": 47.05, "lon": 19.05, "country": "Hungary"}
			}`)
		})
		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)

		api, err := newTestAPIClient(server)
		if err != nil {
			t.Fatalf("failed to create API client: %v", err)
		}

		sink := &collectSink{}
		step := NewScrapeStep(newStepFetcher(server), sink,
			WithScrapeAPI(api),
			WithScrapeLogger(discardLogger()))

		placeURL := server.URL + "/1234567/api-fort"
		report := model.NewRunReport("Hungary")
		report.SetPlaceURLs([]string{placeURL})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to scrape via API: %v", err)
		}

		if sink.count() != 1 {
			t.Fatalf("expected 1 feature in sink, got %d", sink.count())
		}
		feature := sink.features[0]
		if feature.Properties.Title != "Api Fort" {
			t.Errorf("got title %q, expected %q", feature.Properties.Title, "Api Fort")
		}
		if feature.Properties.SourceURL != placeURL {
			t.Errorf("got source URL %q, expected %q", feature.Properties.SourceURL, placeURL)
		}
		if feature.Properties.PlaceID != "1234567" {
			t.Errorf("got place ID %q, expected %q", feature.Properties.PlaceID, "1234567")
		}
		if !feature.HasCoordinates() {
			t.Error("expected feature to have coordinates")
		}
	})
}

// TestExifEnrichStep tests the coordinate enrichment step.
func TestExifEnrichStep(t *testing.T) {
	t.Parallel()

	t.Run("no held features is a no-op", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewExifEnrichStep(newStepFetcher(server), sink,
			WithEnrichLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sink.count() != 0 {
			t.Errorf("expected empty sink, got %d features", sink.count())
		}
	})

	t.Run("writes held features even without usable metadata", func(t *testing.T) {
		t.Parallel()

		server := newPlaceServer(t)
		sink := &collectSink{}
		step := NewExifEnrichStep(newStepFetcher(server), sink,
			WithEnrichLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		feature := model.NewEmptyPointFeature(server.URL + "/1111111/hidden-cafe")
		feature.Properties.Title = "Hidden Cafe"
		report.HoldForEnrichment(feature, []string{server.URL + "/photos/cafe.jpg"})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to enrich: %v", err)
		}

		if sink.count() != 1 {
			t.Fatalf("expected 1 feature in sink, got %d", sink.count())
		}
		if report.FeaturesScraped != 1 {
			t.Errorf("expected 1 feature counted, got %d", report.FeaturesScraped)
		}
		if report.CoordinatesMissing != 1 {
			t.Errorf("expected 1 coordinate-less feature, got %d", report.CoordinatesMissing)
		}
		if report.EnrichedFromExif != 0 {
			t.Errorf("expected 0 enriched features, got %d", report.EnrichedFromExif)
		}
		if sink.features[0].Properties.RunID != report.RunID {
			t.Error("expected the written feature to carry the run ID")
		}
	})

	t.Run("photo fetch failures do not fail the run", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(server.Close)

		sink := &collectSink{}
		step := NewExifEnrichStep(newStepFetcher(server), sink,
			WithEnrichLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		feature := model.NewEmptyPointFeature("https://wikimapia.org/1111111/hidden-cafe")
		report.HoldForEnrichment(feature, []string{server.URL + "/photos/gone.jpg"})

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sink.count() != 1 {
			t.Errorf("expected the feature to be written anyway, got %d", sink.count())
		}
	})

	t.Run("caps photo attempts per feature", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			fmt.Fprint(w, "not a real photo")
		}))
		t.Cleanup(server.Close)

		sink := &collectSink{}
		step := NewExifEnrichStep(newStepFetcher(server), sink,
			WithMaxPhotos(2),
			WithEnrichLogger(discardLogger()))

		photos := make([]string, 5)
		for i := range photos {
			photos[i] = fmt.Sprintf("%s/photos/%d.jpg", server.URL, i)
		}

		report := model.NewRunReport("Hungary")
		feature := model.NewEmptyPointFeature("https://wikimapia.org/1111111/hidden-cafe")
		report.HoldForEnrichment(feature, photos)

		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("failed to enrich: %v", err)
		}

		if got := requests.Load(); got != 2 {
			t.Errorf("expected 2 photo fetches, got %d", got)
		}
	})

	t.Run("sink errors fail the run", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(server.Close)

		sink := &failSink{err: errors.New("disk full")}
		step := NewExifEnrichStep(newStepFetcher(server), sink,
			WithEnrichLogger(discardLogger()))

		report := model.NewRunReport("Hungary")
		feature := model.NewEmptyPointFeature("https://wikimapia.org/1111111/hidden-cafe")
		report.HoldForEnrichment(feature, []string{server.URL + "/photos/gone.jpg"})

		err := step.Do(context.Background(), report)
		if err == nil {
			t.Fatal("expected error from failing sink")
		}
		if !strings.Contains(err.Error(), "failed to write feature") {
			t.Errorf("unexpected error message: %v", err)
		}
	})
}

package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/server"
	"github.com/cucumber/godog"
)

// startServer runs the API in-process on an httptest listener without a model.
func (testCtx *TestContext) startServer(rateLimit server.RateLimitConfig) error {
	testCtx.stopServer()

	pcfg := pipeline.DefaultConfig()
	pcfg.EnableModel = false
	srv, err := server.NewServer(server.Config{
		Host:           "127.0.0.1",
		CORSOrigin:     "*",
		MaxUploadMB:    1,
		TimeoutSec:     10,
		PipelineConfig: pcfg,
		RateLimit:      rateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.APIServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) stopServer() {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.APIServer != nil {
		_ = testCtx.APIServer.Close()
		testCtx.APIServer = nil
	}
}

func (testCtx *TestContext) theAPIServerIsRunning() error {
	return testCtx.startServer(server.RateLimitConfig{})
}

func (testCtx *TestContext) theAPIServerIsRunningWithRateLimit(rps float64, burst int) error {
	return testCtx.startServer(server.RateLimitConfig{Enabled: true, RequestsPerSecond: rps, Burst: burst})
}

func (testCtx *TestContext) doRequest(method, endpoint string, body io.Reader) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	req, err := http.NewRequest(method, testCtx.HTTPServer.URL+endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.doRequest(http.MethodGet, endpoint, nil)
}

func (testCtx *TestContext) iPOSTFileTo(name, endpoint string) error {
	data, err := os.ReadFile(testCtx.tempPath(name))
	if err != nil {
		return err
	}
	return testCtx.doRequest(http.MethodPost, endpoint, bytes.NewReader(data))
}

func (testCtx *TestContext) iPOSTJSONTo(endpoint string, body *godog.DocString) error {
	return testCtx.doRequest(http.MethodPost, endpoint, strings.NewReader(body.Content))
}

func (testCtx *TestContext) iPOSTTimesTo(n int, name, endpoint string) error {
	for i := 0; i < n; i++ {
		if err := testCtx.iPOSTFileTo(name, endpoint); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("response header %s is not set", name)
	}
	return nil
}

func (testCtx *TestContext) responseAnnotations() ([]byte, error) {
	var resp struct {
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &resp); err != nil {
		return nil, fmt.Errorf("invalid response JSON: %w", err)
	}
	return resp.Annotations, nil
}

func (testCtx *TestContext) responseImageShouldHaveDetections(image, count int, labelName string) error {
	data, err := testCtx.responseAnnotations()
	if err != nil {
		return err
	}
	sets, err := decodeSets(data)
	if err != nil {
		return err
	}
	return checkCount(sets, image, count, labelName)
}

func (testCtx *TestContext) responseDetectionShouldBe(labelName string, n, image int, want string) error {
	data, err := testCtx.responseAnnotations()
	if err != nil {
		return err
	}
	sets, err := decodeSets(data)
	if err != nil {
		return err
	}
	return checkDetection(sets, labelName, n, image, want)
}

// RegisterServerSteps registers in-process API server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	sc.Step(`^the API server is running with a rate limit of ([0-9.]+) requests per second and burst (\d+)$`,
		testCtx.theAPIServerIsRunningWithRateLimit)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST "([^"]*)" to "([^"]*)"$`, testCtx.iPOSTFileTo)
	sc.Step(`^I POST "([^"]*)" to "([^"]*)" (\d+) times$`, func(name, endpoint string, n int) error {
		return testCtx.iPOSTTimesTo(n, name, endpoint)
	})
	sc.Step(`^I POST JSON to "([^"]*)":$`, testCtx.iPOSTJSONTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
	sc.Step(`^response image (\d+) should have (\d+) (table|chart|title) detections?$`,
		testCtx.responseImageShouldHaveDetections)
	sc.Step(`^response (table|chart|title) (\d+) of image (\d+) should be \[([^\]]*)\]$`,
		testCtx.responseDetectionShouldBe)
}

package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/pagefuse/internal/server"
	"github.com/MeKo-Tech/pagefuse/internal/testutil"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	BinaryPath string
	EnvVars    []string

	// In-process API server
	HTTPServer *httptest.Server
	APIServer  *server.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context rooted at the project directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "pagefuse-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	binary := os.Getenv("PAGEFUSE_BIN")
	if binary == "" {
		binary = filepath.Join(root, "bin", "pagefuse")
	}

	return &TestContext{
		WorkingDir:      root,
		TempDir:         tempDir,
		BinaryPath:      binary,
		EnvVars:         []string{},
		LastHTTPHeaders: map[string]string{},
	}, nil
}

// Cleanup stops the server and removes the scenario's temporary directory.
func (testCtx *TestContext) Cleanup() error {
	testCtx.stopServer()
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// tempPath resolves a file name inside the scenario's temporary directory.
func (testCtx *TestContext) tempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substitute replaces {tmp} with the scenario's temporary directory.
func (testCtx *TestContext) substitute(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

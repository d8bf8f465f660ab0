package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockFsUtils struct {
	executable    string
	executableErr error
	statMap       map[string]os.FileInfo
	statErr       error
	readFileMap   map[string][]byte
	readFileErr   error
	homeDir       string
	homeDirErr    error
	cwd           string
	cwdErr        error
	lookPathMap   map[string]string
	lookPathErr   error
}

func (m *mockFsUtils) Executable() (string, error) { return m.executable, m.executableErr }
func (m *mockFsUtils) Stat(name string) (os.FileInfo, error) {
	if info, ok := m.statMap[name]; ok {
		return info, nil
	}
	return nil, m.statErr
}
func (m *mockFsUtils) ReadFile(name string) ([]byte, error) {
	if content, ok := m.readFileMap[name]; ok {
		return content, nil
	}
	return nil, m.readFileErr
}
func (m *mockFsUtils) UserHomeDir() (string, error) { return m.homeDir, m.homeDirErr }
func (m *mockFsUtils) Getwd() (string, error)       { return m.cwd, m.cwdErr }
func (m *mockFsUtils) LookPath(file string) (string, error) {
	if path, ok := m.lookPathMap[file]; ok {
		return path, nil
	}
	return "", m.lookPathErr
}

// captureStdout runs fn with os.Stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()
	w.Close()
	return <-outC
}

const (
	testBinary = "/usr/local/bin/otlp-timeline"
	testHome   = "/home/testuser"
	testCwd    = "/home/testuser/project"
)

func TestDoctorNoConfigs(t *testing.T) {
	utils := &mockFsUtils{
		executable: testBinary,
		homeDir:    testHome,
		cwd:        testCwd,
		statMap: map[string]os.FileInfo{
			testBinary: &mockFileInfo{mode: 0755},
		},
		statErr:     os.ErrNotExist,
		lookPathErr: os.ErrNotExist,
	}

	var err error
	out := captureStdout(t, func() { err = runDoctorWithUtils("test-version", utils) })

	assert.NoError(t, err)
	assert.Contains(t, out, "⚠ Optional: no agent MCP config found")
	assert.Contains(t, out, "✓ No otlp-timeline config files, using defaults")
	assert.Contains(t, out, "⚠ Optional: otel-cli not found")
	assert.Contains(t, out, "⚠️  2 optional warning(s)")
}

func TestDoctorAllPass(t *testing.T) {
	mcpPath := filepath.Join(testCwd, ".mcp.json")
	cfgPath := filepath.Join(testCwd, ".otlp-timeline.json")
	utils := &mockFsUtils{
		executable: testBinary,
		homeDir:    testHome,
		cwd:        testCwd,
		statMap: map[string]os.FileInfo{
			testBinary:  &mockFileInfo{mode: 0755},
			mcpPath:     &mockFileInfo{mode: 0644},
			cfgPath:     &mockFileInfo{mode: 0644},
			"/var/otel": &mockFileInfo{isDir: true},
		},
		statErr: os.ErrNotExist,
		readFileMap: map[string][]byte{
			mcpPath: []byte(`{"mcpServers": {"otlp-timeline": {"command": "` + testBinary + `", "args": ["serve", "--mcp"]}}}`),
			cfgPath: []byte(`{"watch_dirs": ["/var/otel"]}`),
		},
		lookPathMap: map[string]string{"otel-cli": "/usr/local/bin/otel-cli"},
	}

	var err error
	out := captureStdout(t, func() { err = runDoctorWithUtils("test-version", utils) })

	assert.NoError(t, err)
	assert.Contains(t, out, "✓ MCP config found: "+mcpPath)
	assert.Contains(t, out, "✓ Config loaded: "+cfgPath)
	assert.Contains(t, out, "✓ Optional: otel-cli found at /usr/local/bin/otel-cli")
	assert.Contains(t, out, "✅ All checks passed!")
}

func TestDoctorFailures(t *testing.T) {
	mcpPath := filepath.Join(testCwd, ".mcp.json")
	cfgPath := filepath.Join(testCwd, ".otlp-timeline.json")
	utils := &mockFsUtils{
		executable: testBinary,
		homeDir:    testHome,
		cwd:        testCwd,
		statMap: map[string]os.FileInfo{
			testBinary: &mockFileInfo{mode: 0644},
			mcpPath:    &mockFileInfo{mode: 0644},
			cfgPath:    &mockFileInfo{mode: 0644},
		},
		statErr: os.ErrNotExist,
		readFileMap: map[string][]byte{
			mcpPath: []byte(`{"mcpServers": {"otlp-timeline": {"command": "` + testBinary + `", "args": ["serve"]}}}`),
			cfgPath: []byte(`{"watch_dirs": `),
		},
		lookPathErr: os.ErrNotExist,
	}

	var err error
	out := captureStdout(t, func() { err = runDoctorWithUtils("test-version", utils) })

	assert.Error(t, err)
	assert.Contains(t, out, "is not executable")
	assert.Contains(t, out, `must pass "--mcp"`)
	assert.Contains(t, out, "is not valid JSON")
	assert.Contains(t, out, "❌ Found 3 issue(s) that need attention")
}

func TestCheckTimelineConfigMissingWatchDir(t *testing.T) {
	cfgPath := filepath.Join(testHome, ".config", "otlp-timeline", "config.json")
	utils := &mockFsUtils{
		homeDir: testHome,
		cwdErr:  os.ErrPermission,
		statMap: map[string]os.FileInfo{cfgPath: &mockFileInfo{}},
		statErr: os.ErrNotExist,
		readFileMap: map[string][]byte{
			cfgPath: []byte(`{"watch_dirs": ["/nowhere"]}`),
		},
	}

	result := checkTimelineConfig(utils)
	assert.Equal(t, "warn", result.Status)
	assert.Contains(t, result.Suggestion, "/nowhere")
}

// mockFileInfo implements os.FileInfo for testing purposes
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     interface{}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return m.sys }

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/config"
)

// useTestConfig loads defaults from an empty temp dir, switches to the
// in-memory store and pins the reference date.
func useTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	c, err := config.Load()
	require.NoError(t, err)
	c.Store.Driver = config.DriverMemory
	c.Anthropic.Key = ""
	c.Validation.AsOf = "2025-06-30"

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const cleanCSV = `사원번호,이름,생년월일,성별,입사일자,종업원구분,기준급여
1001,홍길동,1985-03-15,1,2010-03-02,직원,"3,500,000"
1002,김영희,1990-07-01,2,2015-09-01,직원,"3,200,000"
1003,박철수,1978-11-20,1,2005-01-03,임원,"6,000,000"
`

// missingCSV has no employee type or gender column.
const missingCSV = `사번,성명,생년월일,입사일,기준급여
1001,홍길동,1985-03-15,2010-03-02,"3,500,000"
1002,김영희,1990-07-01,2015-09-01,"3,200,000"
1003,박철수,1978-11-20,2005-01-03,"6,000,000"
`

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

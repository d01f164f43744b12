package main

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

func TestPrintCatalog_RoundTrips(t *testing.T) {
	reg := schema.Default()

	var buf bytes.Buffer
	require.NoError(t, printCatalog(&buf, reg, ""))

	parsed, err := schema.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, reg.Version, parsed.Version)
	for _, rt := range reg.RecordTypes() {
		if diff := cmp.Diff(reg.Fields(rt), parsed.Fields(rt), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s fields mismatch (-want +got):\n%s", rt, diff)
		}
	}
}

func TestPrintCatalog_OneRecordType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCatalog(&buf, schema.Default(), model.RecordRetired))

	parsed, err := schema.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []model.RecordType{model.RecordRetired}, parsed.RecordTypes())
}

package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/model"
)

func TestDefault_RequiredActive(t *testing.T) {
	r := Default()
	assert.Equal(t,
		[]string{"사원번호", "생년월일", "성별", "입사일자", "종업원구분", "기준급여"},
		r.Required(model.RecordActive))
	assert.Contains(t, r.Required(model.RecordRetired), "퇴직일")
}

func TestDefault_FindByAlias(t *testing.T) {
	r := Default()
	tests := []struct {
		header string
		want   string
	}{
		{"사번", "사원번호"},
		{"Employee_ID", "사원번호"},
		{"성명", "이름"},
		{"입사일", "입사일자"},
		{"성별 (1:남자, 2:여자)", "성별"},
		{"E-Mail", "이메일"},
		{"종업원 유형", "종업원구분"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			f := r.FindByAlias(model.RecordActive, tt.header)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Name)
		})
	}
	assert.Nil(t, r.FindByAlias(model.RecordActive, "취미"))
}

func TestDefault_ScopedByRecordType(t *testing.T) {
	r := Default()
	f := r.ByName(model.RecordRetired, "퇴직일")
	require.NotNil(t, f)
	assert.True(t, f.Required)

	active := r.ByName(model.RecordActive, "퇴직일")
	require.NotNil(t, active)
	assert.False(t, active.Required)

	assert.Nil(t, r.ByName(model.RecordExtra, "생년월일"))
	assert.ElementsMatch(t,
		[]model.RecordType{model.RecordActive, model.RecordExtra, model.RecordRetired},
		r.RecordTypes())
}

func TestNew_AliasCollision(t *testing.T) {
	_, err := New(1, []model.CanonicalField{
		{Name: "a", Aliases: []string{"x"}},
		{Name: "b", Aliases: []string{"X"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maps to both")
}

func TestNew_DuplicateName(t *testing.T) {
	_, err := New(1, []model.CanonicalField{{Name: "a"}, {Name: "a"}})
	require.Error(t, err)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(1, []model.CanonicalField{{Name: "a", Type: "blob"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema:
  version: 9
  fields:
    - name: emp
      required: true
      aliases: [id]
    - name: salary
      type: number
`), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, r.Version)
	assert.Equal(t, []string{"emp"}, r.Required(model.RecordActive))
	assert.Equal(t, model.TypeNumber, r.ByName(model.RecordActive, "salary").Type)
	assert.Equal(t, model.TypeString, r.ByName(model.RecordActive, "emp").Type)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalog")
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte("schema: {}"))
	require.Error(t, err)
}

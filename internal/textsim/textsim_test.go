package textsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Employee ID ", "employee id"},
		{"입사\n일자", "입사 일자"},
		{"성별 (1:남자, 2:여자)", "성별"},
		{"기준급여(원)", "기준급여"},
		{"(비고)", "(비고)"},
		{"ＡＢＣ", "abc"},
		{"a\t\tb", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "종업원구분", Key("종업원 구분"))
	assert.Equal(t, "employeeid", Key("Employee_ID"))
	assert.Equal(t, "직원id", Key("직원ID"))
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 1.0, Ratio("abc", "abc"), 0.0001)
	assert.InDelta(t, 0.0, Ratio("abc", "xyz"), 0.0001)
	assert.InDelta(t, 1.0, Ratio("", ""), 0.0001)
	// "abcd" vs "bcde": matching "bcd" → 2*3/8
	assert.InDelta(t, 0.75, Ratio("abcd", "bcde"), 0.0001)
	// 입사일 vs 입사일자: 2*3/7
	assert.InDelta(t, 6.0/7.0, Ratio("입사일", "입사일자"), 0.0001)
}

func TestRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{{"사원번호", "직원번호"}, {"hire_date", "hiredate"}, {"급여", "기준급여"}}
	for _, p := range pairs {
		assert.InDelta(t, Ratio(p[0], p[1]), Ratio(p[1], p[0]), 0.0001, p)
	}
}

func TestKeyRatio(t *testing.T) {
	assert.InDelta(t, 1.0, KeyRatio("Hire Date", "hire_date"), 0.0001)
	assert.Greater(t, KeyRatio("입사 년월일", "입사년월일"), 0.99)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"1001", "1001", 0},
		{"1001", "1007", 1},
		{"1001", "10012", 1},
		{"kitten", "sitting", 3},
		{"홍길동", "홍길돈", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

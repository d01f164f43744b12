// Package validate runs the three validation layers over a mapped roster:
// L1 format checks per record, L2 duplicate and cross-field consistency
// checks over the whole set, and L3 re-evaluation against learned patterns
// and caller answers.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

// Finding codes.
const (
	CodeRequiredFieldMissing = "required_field_missing"
	CodeRequiredValueMissing = "required_value_missing"
	CodeInvalidDate          = "invalid_date"
	CodeDateSerial           = "date_excel_serial"
	CodeBirthYearOutOfRange  = "birth_year_out_of_range"
	CodeBirthYearUnusual     = "birth_year_unusual"
	CodeHireDateFuture       = "hire_date_future"
	CodeGenderLongForm       = "gender_long_form"
	CodeInvalidCategory      = "invalid_category"
	CodeInvalidNumber        = "invalid_number"
	CodeSalaryNotPositive    = "salary_not_positive"
	CodeBelowMinimumWage     = "below_minimum_wage"
	CodeNegativeAmount       = "negative_amount"
	CodePhoneInternational   = "phone_international"
	CodeInvalidPhone         = "invalid_phone"
	CodeEmailNotNormalized   = "email_not_normalized"
	CodeInvalidEmail         = "invalid_email"

	CodeDuplicateExact      = "duplicate_exact"
	CodeDuplicateSimilar    = "duplicate_similar"
	CodeDuplicateSuspicious = "duplicate_suspicious"
	CodeHireBeforeWorkAge   = "hire_before_working_age"
	CodeRetireBeforeHire    = "retire_before_hire"
	CodeActiveWithRetire    = "active_with_retire_date"
	CodeHireAgeOutlier      = "hire_age_outlier"

	CodeHeadcountMismatch = "headcount_mismatch"
)

// Standard field names the rules look at.
const (
	FieldEmployeeID = "사원번호"
	FieldName       = "이름"
	FieldBirth      = "생년월일"
	FieldGender     = "성별"
	FieldHire       = "입사일자"
	FieldRetire     = "퇴직일"
	FieldSalary     = "기준급여"
	FieldPhone      = "전화번호"
	FieldEmail      = "이메일"
	FieldRank       = "직급"
	FieldEmpType    = "종업원구분"
	FieldDept       = "부서"
)

// Config holds the rule constants. Zero values fall back to defaults.
type Config struct {
	MinWage            float64 `mapstructure:"min_wage" yaml:"min_wage"`
	BirthYearFloor     int     `mapstructure:"birth_year_floor" yaml:"birth_year_floor"`
	UsualBirthYearMin  int     `mapstructure:"usual_birth_year_min" yaml:"usual_birth_year_min"`
	UsualBirthYearMax  int     `mapstructure:"usual_birth_year_max" yaml:"usual_birth_year_max"`
	MinWorkingAge      int     `mapstructure:"min_working_age" yaml:"min_working_age"`
	HireAgeOutlier     int     `mapstructure:"hire_age_outlier" yaml:"hire_age_outlier"`
	KeyField           string  `mapstructure:"key_field" yaml:"key_field"`
	SuspiciousDistance int     `mapstructure:"suspicious_distance" yaml:"suspicious_distance"`
	HeadcountTolerance float64 `mapstructure:"headcount_tolerance" yaml:"headcount_tolerance"`
	Concurrency        int     `mapstructure:"concurrency" yaml:"concurrency"`

	// AsOf is the reference date for future-date and age checks. Zero means now.
	AsOf time.Time `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the production rule constants.
func DefaultConfig() Config {
	return Config{
		MinWage:            2_060_740,
		BirthYearFloor:     1900,
		UsualBirthYearMin:  1945,
		UsualBirthYearMax:  2010,
		MinWorkingAge:      15,
		HireAgeOutlier:     65,
		KeyField:           FieldEmployeeID,
		SuspiciousDistance: 1,
		HeadcountTolerance: 0.05,
		Concurrency:        8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWage <= 0 {
		c.MinWage = d.MinWage
	}
	if c.BirthYearFloor <= 0 {
		c.BirthYearFloor = d.BirthYearFloor
	}
	if c.UsualBirthYearMin <= 0 {
		c.UsualBirthYearMin = d.UsualBirthYearMin
	}
	if c.UsualBirthYearMax <= 0 {
		c.UsualBirthYearMax = d.UsualBirthYearMax
	}
	if c.MinWorkingAge <= 0 {
		c.MinWorkingAge = d.MinWorkingAge
	}
	if c.HireAgeOutlier <= 0 {
		c.HireAgeOutlier = d.HireAgeOutlier
	}
	if c.KeyField == "" {
		c.KeyField = d.KeyField
	}
	if c.SuspiciousDistance <= 0 {
		c.SuspiciousDistance = d.SuspiciousDistance
	}
	if c.HeadcountTolerance <= 0 {
		c.HeadcountTolerance = d.HeadcountTolerance
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// Validator runs L1, L2 and L3 against a schema registry.
type Validator struct {
	registry *schema.Registry
	cfg      Config
}

// New creates a Validator.
func New(registry *schema.Registry, cfg Config) *Validator {
	return &Validator{registry: registry, cfg: cfg.withDefaults()}
}

// Config returns the effective rule constants.
func (v *Validator) Config() Config {
	return v.cfg
}

func (v *Validator) asOf() time.Time {
	if v.cfg.AsOf.IsZero() {
		return time.Now()
	}
	return v.cfg.AsOf
}

// Report is the output of one validation layer.
type Report struct {
	Findings   []model.Finding        `json:"findings"`
	Duplicates []model.DuplicateGroup `json:"duplicates,omitempty"`
	Stats      model.CheckStats       `json:"stats"`
}

func newFinding(stage model.Stage, sev model.Severity, code string, row int, field, format string, args ...any) model.Finding {
	return model.Finding{
		ID:       uuid.NewString(),
		Code:     code,
		Severity: sev,
		Stage:    stage,
		Target:   model.Target{Row: row, Field: field},
		Message:  fmt.Sprintf(format, args...),
	}
}

type fieldFindings []model.Finding

// passes reports whether a cell check produced nothing above info.
func (f fieldFindings) passes() bool {
	for _, x := range f {
		if x.Severity != model.SeverityInfo {
			return false
		}
	}
	return true
}

// IsAffirmative reports whether an answer confirms a finding is expected.
func IsAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "ok", "true", "정상", "확인", "예", "네":
		return true
	}
	return false
}

// IsNegative reports whether an answer confirms a finding is a real error.
func IsNegative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no", "n", "false", "error", "오류", "아니오", "아니요":
		return true
	}
	return false
}

package analysis

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	apperrors "chart-patterns/internal/errors"
)

var validate = validator.New()

// ScanProperties controls the pattern search. It is a value type: callers get
// a copy from DefaultScanProperties and derive variants with Merge.
type ScanProperties struct {
	// Offset is the first zigzag pivot index the extractor scans from.
	Offset int `json:"offset" default:"0" validate:"gte=0"`
	// MinPeriodsLapsed is the minimum number of rows between the first and
	// last pivot of a pattern.
	MinPeriodsLapsed int `json:"min_periods_lapsed" default:"5" validate:"gte=0"`
	// FlatRatio bounds the spread of matching tops (or bottoms) as a
	// fraction of the pattern height.
	FlatRatio float64 `json:"flat_ratio" default:"0.1" validate:"gt=0,lte=1"`
	// HeadRatio is the minimum head prominence over the higher shoulder as
	// a fraction of the pattern height.
	HeadRatio float64 `json:"head_ratio" default:"0.15" validate:"gt=0,lte=1"`
	// ShoulderSymmetry bounds the shoulder difference as a fraction of the
	// pattern height.
	ShoulderSymmetry float64 `json:"shoulder_symmetry" default:"0.3" validate:"gt=0,lte=1"`
	ShortPeriod      int     `json:"short_period" default:"5" validate:"gt=0"`
	MidPeriod        int     `json:"mid_period" default:"20" validate:"gtefield=ShortPeriod"`
	LongPeriod       int     `json:"long_period" default:"40" validate:"gtefield=MidPeriod"`
	CalcPriceAction  bool    `json:"calc_price_action" default:"true"`
}

// DefaultScanProperties returns a fresh default instance.
func DefaultScanProperties() ScanProperties {
	var p ScanProperties
	// Set only fails on malformed tags, which are fixed above.
	_ = defaults.Set(&p)
	return p
}

// ScanOverrides is a partial ScanProperties; nil fields keep the base value.
type ScanOverrides struct {
	Offset           *int     `mapstructure:"offset" json:"offset,omitempty"`
	MinPeriodsLapsed *int     `mapstructure:"min_periods_lapsed" json:"min_periods_lapsed,omitempty"`
	FlatRatio        *float64 `mapstructure:"flat_ratio" json:"flat_ratio,omitempty"`
	HeadRatio        *float64 `mapstructure:"head_ratio" json:"head_ratio,omitempty"`
	ShoulderSymmetry *float64 `mapstructure:"shoulder_symmetry" json:"shoulder_symmetry,omitempty"`
	ShortPeriod      *int     `mapstructure:"short_period" json:"short_period,omitempty"`
	MidPeriod        *int     `mapstructure:"mid_period" json:"mid_period,omitempty"`
	LongPeriod       *int     `mapstructure:"long_period" json:"long_period,omitempty"`
	CalcPriceAction  *bool    `mapstructure:"calc_price_action" json:"calc_price_action,omitempty"`
}

// Merge returns a copy of p with every non-nil override applied.
func (p ScanProperties) Merge(o *ScanOverrides) ScanProperties {
	if o == nil {
		return p
	}
	if o.Offset != nil {
		p.Offset = *o.Offset
	}
	if o.MinPeriodsLapsed != nil {
		p.MinPeriodsLapsed = *o.MinPeriodsLapsed
	}
	if o.FlatRatio != nil {
		p.FlatRatio = *o.FlatRatio
	}
	if o.HeadRatio != nil {
		p.HeadRatio = *o.HeadRatio
	}
	if o.ShoulderSymmetry != nil {
		p.ShoulderSymmetry = *o.ShoulderSymmetry
	}
	if o.ShortPeriod != nil {
		p.ShortPeriod = *o.ShortPeriod
	}
	if o.MidPeriod != nil {
		p.MidPeriod = *o.MidPeriod
	}
	if o.LongPeriod != nil {
		p.LongPeriod = *o.LongPeriod
	}
	if o.CalcPriceAction != nil {
		p.CalcPriceAction = *o.CalcPriceAction
	}
	return p
}

// Validate checks the thresholds.
func (p ScanProperties) Validate() error {
	return Validate(p)
}

// NewScanProperties merges o over the defaults and validates the result.
func NewScanProperties(o *ScanOverrides) (ScanProperties, error) {
	p := DefaultScanProperties().Merge(o)
	if err := p.Validate(); err != nil {
		return ScanProperties{}, err
	}
	return p, nil
}

// Validate runs struct tag validation and reports the first failing field
// as a ValidationError wrapping ErrConfigInvalid.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !apperrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}

	fe := fieldErrs[0]
	verr := apperrors.NewValidationError(fe.Field(), fe.Value(), validationMessage(fe))
	verr.Err = apperrors.ErrConfigInvalid
	return verr
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

package types

import "fmt"

// ValueRange represents an inclusive range constraint for a numeric state
// variable value. The step is advisory: it is emitted in descriptors but
// never enforced when values are set.
type ValueRange struct {
	min  interface{}
	max  interface{}
	step interface{}
}

// NewValueRange creates a valid value range for the UPnP type.
//
// Both bounds are cast to the type; if either cast fails, or min compares
// greater than max, an error is returned. A nil step leaves the range
// without an advisory step.
func (t Datatype) NewValueRange(min, max, step interface{}) (*ValueRange, error) {
	if !t.IsNumeric() {
		return nil, fmt.Errorf("ranges only apply to numeric types, not %s", t)
	}

	cmin, err := t.Cast(min)
	if err != nil {
		return nil, fmt.Errorf("min value %v is not castable to type %s", min, t)
	}
	cmax, err := t.Cast(max)
	if err != nil {
		return nil, fmt.Errorf("max value %v is not castable to type %s", max, t)
	}

	c, err := t.Cmp(cmin, cmax)
	if err != nil {
		return nil, err
	}
	if c > 0 {
		return nil, fmt.Errorf("invalid range: min %v > max %v", cmin, cmax)
	}

	r := &ValueRange{min: cmin, max: cmax}

	if step != nil {
		cstep, err := t.Cast(step)
		if err != nil {
			return nil, fmt.Errorf("step value %v is not castable to type %s", step, t)
		}
		zero, _ := t.Cast(0)
		if c, err := t.Cmp(cstep, zero); err != nil || c <= 0 {
			return nil, fmt.Errorf("invalid range step %v: must be > 0", cstep)
		}
		r.step = cstep
	}

	return r, nil
}

// Minimum returns the lower bound of the range.
func (r *ValueRange) Minimum() interface{} { return r.min }

// Maximum returns the upper bound of the range.
func (r *ValueRange) Maximum() interface{} { return r.max }

// Step returns the advisory step of the range, or nil if none is set.
func (r *ValueRange) Step() interface{} { return r.step }

// InRange checks if a value falls within the inclusive range [min, max].
// A nil range accepts every value.
func (t Datatype) InRange(val interface{}, r *ValueRange) bool {
	if r == nil {
		return true
	}
	cmin, err := t.Cmp(val, r.min)
	if err != nil {
		return false
	}
	cmax, err := t.Cmp(val, r.max)
	if err != nil {
		return false
	}
	return cmin >= 0 && cmax <= 0
}

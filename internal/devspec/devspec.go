// Package devspec reads the platform device-spec document: how many modules
// of each type the chassis holds and which part numbers are expected.
package devspec

import (
	"io"
	"strings"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	ErrReadSpec    = errors.ErrorCode("devspec_read_failed")
	ErrInvalidSpec = errors.ErrorCode("devspec_invalid")
)

// Spec is a parsed device-spec document.
type Spec struct {
	number     map[hardware.PeriphType]int
	expectedPN map[hardware.PeriphType][]string
}

// Load reads the JSON document at path.
func Load(path string) (*Spec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New().Wrap(ErrReadSpec, err)
	}
	return fromViper(v)
}

// Parse reads a JSON document from r.
func Parse(r io.Reader) (*Spec, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.New().Wrap(ErrReadSpec, err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Spec, error) {
	s := &Spec{
		number:     make(map[hardware.PeriphType]int),
		expectedPN: make(map[hardware.PeriphType][]string),
	}

	for _, t := range hardware.PeriphTypes {
		key := strings.ToLower(t.String())

		n, err := cast.ToIntE(v.Get("number." + key))
		if err != nil || n < 0 {
			return nil, errors.New().WithData(ErrInvalidSpec, struct {
				Field string
				Type  string
			}{
				Field: "number",
				Type:  t.String(),
			})
		}
		s.number[t] = n

		// a single part number or a list of them
		switch pn := v.Get("expected-pn." + key).(type) {
		case nil:
		case string:
			s.expectedPN[t] = []string{pn}
		default:
			list, err := cast.ToStringSliceE(pn)
			if err != nil {
				return nil, errors.New().WithData(ErrInvalidSpec, struct {
					Field string
					Type  string
				}{
					Field: "expected-pn",
					Type:  t.String(),
				})
			}
			s.expectedPN[t] = list
		}
	}

	return s, nil
}

// Number returns how many modules of type t the chassis holds.
func (s *Spec) Number(t hardware.PeriphType) int {
	return s.number[t]
}

// ExpectedPN returns the accepted part numbers for type t.
func (s *Spec) ExpectedPN(t hardware.PeriphType) []string {
	return s.expectedPN[t]
}

// IsExpectedPN reports whether pn is one of the accepted part numbers.
func (s *Spec) IsExpectedPN(t hardware.PeriphType, pn string) bool {
	return lo.Contains(s.expectedPN[t], pn)
}

// FirstSlot returns the first slot id of type t. Slot ids are shared by
// line cards, then PSUs, then fans.
func (s *Spec) FirstSlot(t hardware.PeriphType) int {
	switch t {
	case hardware.Linecard, hardware.CU, hardware.Chassis:
		return 1
	case hardware.PSU:
		return 1 + s.number[hardware.Linecard]
	case hardware.Fan:
		return 1 + s.number[hardware.Linecard] + s.number[hardware.PSU]
	default:
		return 0
	}
}

// LastSlot returns the last slot id of type t.
func (s *Spec) LastSlot(t hardware.PeriphType) int {
	start := s.FirstSlot(t)
	if start == 0 {
		return 0
	}
	return start + s.number[t] - 1
}

// Slots lists every slot id of type t.
func (s *Spec) Slots(t hardware.PeriphType) []int {
	first, last := s.FirstSlot(t), s.LastSlot(t)
	if first == 0 || last < first {
		return []int{}
	}
	return lo.RangeFrom(first, last-first+1)
}

// ChassisPowerCapacity derives the supported PSU capacity in watts from the
// fourth character of the chassis part number. 0 when unknown.
func (s *Spec) ChassisPowerCapacity() int {
	pns := s.expectedPN[hardware.Chassis]
	if len(pns) == 0 || len(pns[0]) < 4 {
		return 0
	}

	switch pns[0][3] {
	case '0':
		return 550
	case '1':
		return 800
	case '2':
		return 1300
	default:
		return 0
	}
}

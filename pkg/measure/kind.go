package measure

import (
	"fmt"
	"strings"
)

// Kind is the most specific recognized category of a measure class.
type Kind int

const (
	KindMeasure Kind = iota
	KindModel
	KindEnergyPlus
	KindReporting
)

var kindNames = map[Kind]string{
	KindMeasure:    "Measure",
	KindModel:      "ModelMeasure",
	KindEnergyPlus: "EnergyPlusMeasure",
	KindReporting:  "ReportingMeasure",
}

var kindGuestTypes = map[Kind]string{
	KindMeasure:    GuestMeasure,
	KindModel:      GuestModelMeasure,
	KindEnergyPlus: GuestEnergyPlusMeasure,
	KindReporting:  GuestReportingMeasure,
}

// String returns the kind's class name, e.g. "ModelMeasure".
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// GuestType returns the bindings class the kind corresponds to.
func (k Kind) GuestType() string {
	return kindGuestTypes[k]
}

// ParseKind parses a kind name. Matching is case-insensitive and accepts the
// short forms "model", "energyplus" and "reporting".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "measure", "":
		return KindMeasure, nil
	case "modelmeasure", "model":
		return KindModel, nil
	case "energyplusmeasure", "energyplus":
		return KindEnergyPlus, nil
	case "reportingmeasure", "reporting":
		return KindReporting, nil
	}
	return KindMeasure, fmt.Errorf("unknown measure kind: %q", s)
}

// classifyOrder is the priority in which intermediate base types are tested.
var classifyOrder = []Kind{KindModel, KindEnergyPlus, KindReporting}

// SubclassFunc reports whether the class being classified derives from the
// named guest type.
type SubclassFunc func(guestType string) (bool, error)

// Classify determines a class's most specific kind by asking isSubclass
// about each intermediate base type in a fixed order, stopping at the first
// match. A class matching none is a plain KindMeasure.
func Classify(isSubclass SubclassFunc) (Kind, error) {
	for _, k := range classifyOrder {
		ok, err := isSubclass(k.GuestType())
		if err != nil {
			return KindMeasure, err
		}
		if ok {
			return k, nil
		}
	}
	return KindMeasure, nil
}

// ClassifyBases classifies a class from the names of all its ancestors.
// Backends that can walk the class chain on the host side use it instead of
// one guest query per check.
func ClassifyBases(bases []string) Kind {
	set := make(map[string]bool, len(bases))
	for _, b := range bases {
		set[b] = true
	}
	k, _ := Classify(func(guestType string) (bool, error) {
		return set[guestType], nil
	})
	return k
}

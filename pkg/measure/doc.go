// Package measure models the host side of guest measure plugins.
//
// A measure is a guest class deriving from openstudio.Measure or one of its
// intermediate kinds (ModelMeasure, EnergyPlusMeasure, ReportingMeasure).
// Backends hand the host a Measure whose concrete type matches the class's
// most specific kind; method calls are proxied to the guest object.
package measure

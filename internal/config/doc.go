// Package config defines the format-agnostic configuration document consumed
// by the rest of cutlet, together with the Loader contract implemented by
// format-specific adapters such as the HCL one.
//
// A Document is an ordered tree of Sections. Every section carries typed
// cty values, so two sections can be compared structurally without knowing
// which file format produced them. Documents are immutable once loaded; a
// reload always produces a fresh Document that is diffed against the old one.
package config

package pipeline

import (
	"fmt"
	"sync"
)

// Feature is a named optional subscription that must be enabled before its
// inbound data is delivered.
type Feature string

// Recognised features.
const (
	FeatureC2D         Feature = "c2d"
	FeatureInput       Feature = "input"
	FeatureMethods     Feature = "methods"
	FeatureTwin        Feature = "twin"
	FeatureTwinPatches Feature = "twin_patches"
)

// AllFeatures lists every recognised feature.
var AllFeatures = []Feature{
	FeatureC2D,
	FeatureInput,
	FeatureMethods,
	FeatureTwin,
	FeatureTwinPatches,
}

// Validate returns ErrInvalidFeature for unrecognised names.
func (f Feature) Validate() error {
	switch f {
	case FeatureC2D, FeatureInput, FeatureMethods, FeatureTwin, FeatureTwinPatches:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFeature, string(f))
	}
}

// FeatureSet tracks which features are enabled.
//
// Thread Safety: safe for concurrent use. Facade callers read it to decide
// whether an implicit enable is needed before a receive call.
type FeatureSet struct {
	mu      sync.RWMutex
	enabled map[Feature]bool
}

// NewFeatureSet returns a set with every feature disabled.
func NewFeatureSet() *FeatureSet {
	fs := &FeatureSet{enabled: make(map[Feature]bool, len(AllFeatures))}
	for _, f := range AllFeatures {
		fs.enabled[f] = false
	}
	return fs
}

// Enabled reports whether f is enabled.
func (fs *FeatureSet) Enabled(f Feature) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.enabled[f]
}

func (fs *FeatureSet) set(f Feature, on bool) {
	fs.mu.Lock()
	fs.enabled[f] = on
	fs.mu.Unlock()
}

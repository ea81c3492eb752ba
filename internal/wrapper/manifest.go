package wrapper

import (
	"go.uber.org/zap"
)

// Adapter is one entry of a wrapper manifest.
type Adapter struct {
	Metadata
	Languages []string
	Wrap      WrapFunc
}

// Manifest lists the adapters compiled into a binary.
type Manifest []Adapter

// Builtin is the manifest shipped with every binary.
func Builtin() Manifest {
	return Manifest{
		{
			Metadata:  Metadata{Name: "python-function", Description: "Calls a top-level function or Solution method with JSON arguments", Version: "1"},
			Languages: []string{"python", "python3", "py"},
			Wrap:      WrapPython,
		},
		{
			Metadata:  Metadata{Name: "javascript-function", Description: "Calls a declared or bound function with JSON arguments", Version: "1"},
			Languages: []string{"javascript", "js", "node"},
			Wrap:      WrapJavaScript,
		},
		{
			Metadata:  Metadata{Name: "cpp-function", Description: "Generates a main() that decodes JSON arguments for a free function or Solution method", Version: "1"},
			Languages: []string{"cpp", "c++"},
			Wrap:      WrapCpp,
		},
	}
}

// Load registers every well-formed adapter, skips malformed ones with a warning,
// and seals the registry.
func Load(reg *Registry, m Manifest, logger *zap.Logger) *Registry {
	for _, a := range m {
		if err := reg.Register(a.Languages, a.Wrap, a.Metadata); err != nil {
			logger.Warn("skipping malformed wrapper adapter",
				zap.String("adapter", a.Name),
				zap.Strings("languages", a.Languages),
				zap.Error(err),
			)
			continue
		}
		logger.Debug("wrapper adapter registered", zap.String("adapter", a.Name), zap.Strings("languages", a.Languages))
	}
	reg.Seal()
	return reg
}

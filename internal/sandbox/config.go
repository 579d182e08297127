package sandbox

import (
	"github.com/birdsong-labs/luasandbox/internal/extlibs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Config mirrors the C-style API's config record: limits of zero mean
// unbounded, and Path empty disables external modules.
type Config struct {
	OutputLimit      int    // bytes; 0 = unbounded
	MemoryLimit      uint64 // bytes; 0 = unbounded
	InstructionLimit uint64 // count; 0 = unbounded

	Path             string // module root; empty = external modules disabled
	PreservationPath string // opaque to the core beyond where it lives

	// ProtoDescriptors seeds the pb library's message registry.
	ProtoDescriptors []*descriptorpb.FileDescriptorProto

	// Logger receives structured lifecycle events. A nil Logger is
	// replaced with zap.NewNop() so callers never need a nil check.
	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) buildProtoRegistry() (*extlibs.ProtoRegistry, error) {
	reg := extlibs.NewProtoRegistry()
	for _, fd := range c.ProtoDescriptors {
		if err := reg.RegisterFileDescriptor(fd); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

package extlibs

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ProtoRegistry holds the message descriptors the host has made
// available to guest code through the pb library. Only scalar fields
// (string, bool, integer, float/double) are wired through encode/decode
// — repeated fields, nested messages, and oneofs are left to a fuller
// implementation.
type ProtoRegistry struct {
	messages map[string]protoreflect.MessageDescriptor
}

// NewProtoRegistry returns an empty registry; the host populates it
// via RegisterFileDescriptor before creating a sandbox.
func NewProtoRegistry() *ProtoRegistry {
	return &ProtoRegistry{messages: make(map[string]protoreflect.MessageDescriptor)}
}

// RegisterFileDescriptor makes every message type in fd available to
// guest code by its fully-qualified proto name.
func (r *ProtoRegistry) RegisterFileDescriptor(fd *descriptorpb.FileDescriptorProto) error {
	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build file descriptor: %w", err)
	}
	msgs := file.Messages()
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		r.messages[string(md.FullName())] = md
	}
	return nil
}

const pbTypeName = "pb.message"

func registerPB(L *lua.LState, registry *ProtoRegistry) *lua.LTable {
	tbl := L.NewTable()
	if registry == nil {
		registry = NewProtoRegistry()
	}

	tbl.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		fields := L.CheckTable(2)

		md, ok := registry.messages[name]
		if !ok {
			L.RaiseError("pb: unknown message type '%s'", name)
			return 0
		}
		msg := dynamicpb.NewMessage(md)
		var setErr error
		fields.ForEach(func(k, v lua.LValue) {
			if setErr != nil {
				return
			}
			setErr = setScalarField(msg, md, k.String(), v)
		})
		if setErr != nil {
			L.RaiseError("pb: %s", setErr.Error())
			return 0
		}
		out, err := proto.Marshal(msg)
		if err != nil {
			L.RaiseError("pb: marshal: %s", err.Error())
			return 0
		}
		L.Push(lua.LString(out))
		return 1
	}))

	tbl.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		data := L.CheckString(2)

		md, ok := registry.messages[name]
		if !ok {
			L.RaiseError("pb: unknown message type '%s'", name)
			return 0
		}
		msg := dynamicpb.NewMessage(md)
		if err := proto.Unmarshal([]byte(data), msg); err != nil {
			L.RaiseError("pb: unmarshal: %s", err.Error())
			return 0
		}
		L.Push(scalarFieldsToTable(L, msg, md))
		return 1
	}))

	return tbl
}

func setScalarField(msg *dynamicpb.Message, md protoreflect.MessageDescriptor, name string, v lua.LValue) error {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return fmt.Errorf("unknown field '%s'", name)
	}
	switch fd.Kind() {
	case protoreflect.StringKind:
		msg.Set(fd, protoreflect.ValueOfString(v.String()))
	case protoreflect.BoolKind:
		b, ok := v.(lua.LBool)
		if !ok {
			return fmt.Errorf("field '%s' expects a boolean", name)
		}
		msg.Set(fd, protoreflect.ValueOfBool(bool(b)))
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfInt32(int32(n)))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfInt64(int64(n)))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfUint32(uint32(n)))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfUint64(uint64(n)))
	case protoreflect.FloatKind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfFloat32(float32(n)))
	case protoreflect.DoubleKind:
		n, ok := v.(lua.LNumber)
		if !ok {
			return fmt.Errorf("field '%s' expects a number", name)
		}
		msg.Set(fd, protoreflect.ValueOfFloat64(float64(n)))
	default:
		return fmt.Errorf("field '%s' has an unsupported kind for this sandbox's pb facade", name)
	}
	return nil
}

func scalarFieldsToTable(L *lua.LState, msg *dynamicpb.Message, md protoreflect.MessageDescriptor) *lua.LTable {
	tbl := L.NewTable()
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.IsList() || fd.IsMap() {
			continue
		}
		if !msg.Has(fd) {
			continue
		}
		val := msg.Get(fd)
		switch fd.Kind() {
		case protoreflect.StringKind:
			tbl.RawSetString(string(fd.Name()), lua.LString(val.String()))
		case protoreflect.BoolKind:
			tbl.RawSetString(string(fd.Name()), lua.LBool(val.Bool()))
		case protoreflect.FloatKind, protoreflect.DoubleKind:
			tbl.RawSetString(string(fd.Name()), lua.LNumber(val.Float()))
		case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
			protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
			tbl.RawSetString(string(fd.Name()), lua.LNumber(val.Int()))
		case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
			protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
			tbl.RawSetString(string(fd.Name()), lua.LNumber(val.Uint()))
		}
	}
	return tbl
}

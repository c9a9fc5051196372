package interpreter

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

// initMethod runs after field initialisers when a service declares it.
const initMethod = "init"

type serviceType struct {
	name    string
	attrs   []Attribute
	fields  []*ast.ServiceField
	fieldOK map[string]bool
	methods map[string]*userFunction
}

func newServiceType(e *Engine, def *ast.ServiceDefinition) (*serviceType, error) {
	attrs, err := compileAttributes(def.Name, def.Attributes)
	if err != nil {
		return nil, err
	}
	s := &serviceType{
		name:    def.Name,
		attrs:   attrs,
		fields:  def.Fields,
		fieldOK: make(map[string]bool, len(def.Fields)),
		methods: make(map[string]*userFunction, len(def.Methods)),
	}
	for _, f := range def.Fields {
		if s.fieldOK[f.Name] {
			return nil, runtime.NewError(runtime.LoadError, "%s: duplicate field %q", def.Name, f.Name)
		}
		s.fieldOK[f.Name] = true
	}
	for _, m := range def.Methods {
		if _, dup := s.methods[m.Name]; dup {
			return nil, runtime.NewError(runtime.LoadError, "%s: duplicate method %q", def.Name, m.Name)
		}
		if s.fieldOK[m.Name] {
			return nil, runtime.NewError(runtime.LoadError, "%s: %q is both a field and a method", def.Name, m.Name)
		}
		fn, err := newUserFunction(e, m, s)
		if err != nil {
			return nil, err
		}
		s.methods[m.Name] = fn
	}
	return s, nil
}

// A service type is callable: calling it creates an instance.

func (s *serviceType) Name() string { return s.name }

func (s *serviceType) Arity() (int, int) {
	if init, ok := s.methods[initMethod]; ok {
		return init.Arity()
	}
	return 0, 0
}

func (s *serviceType) Invoke(ec *ExecutionContext, _ *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	handle := runtime.HandleValue{Type: runtime.HandleService, ID: s.name + "#" + uuid.NewString(), Name: s.name}
	for _, f := range s.fields {
		var val runtime.Value = runtime.Null
		if f.Value != nil {
			v, err := ec.evaluateExpression(f.Value, ec.engine.global)
			if err != nil {
				return nil, err
			}
			val = v
		}
		if err := ec.writeState(fieldKey(handle.ID, f.Name), val); err != nil {
			return nil, err
		}
	}
	if init, ok := s.methods[initMethod]; ok {
		if _, err := ec.call(init, &handle, args); err != nil {
			return nil, err
		}
	}
	Logger().Debug("service instantiated", zap.String("service", s.name), zap.String("instance", handle.ID))
	return handle, nil
}

func fieldKey(instanceID, field string) string {
	return "svc/" + instanceID + "/" + field
}

func (e *Engine) serviceOf(h runtime.HandleValue) (*serviceType, error) {
	if h.Type != runtime.HandleService {
		return nil, typeMismatch("%s is not a service instance", runtime.Format(h))
	}
	s, ok := e.dispatch.service(h.Name)
	if !ok {
		return nil, runtime.NewError(runtime.NameError, "unknown service %q", h.Name)
	}
	return s, nil
}

func (e *Engine) method(h runtime.HandleValue, name string) (*userFunction, error) {
	s, err := e.serviceOf(h)
	if err != nil {
		return nil, err
	}
	m, ok := s.methods[name]
	if !ok {
		return nil, runtime.NewError(runtime.FunctionNotFound, "%s has no method %q", s.name, name)
	}
	return m, nil
}

// readMember resolves instance.member to a field value or a bound method.
func (ec *ExecutionContext) readMember(h runtime.HandleValue, member string) (runtime.Value, error) {
	s, err := ec.engine.serviceOf(h)
	if err != nil {
		return nil, err
	}
	if s.fieldOK[member] {
		v, ok, err := ec.readState(fieldKey(h.ID, member))
		if err != nil {
			return nil, err
		}
		if !ok {
			return runtime.Null, nil
		}
		return v, nil
	}
	if _, ok := s.methods[member]; ok {
		recv := h
		return runtime.FunctionRefValue{Name: member, Receiver: &recv}, nil
	}
	return nil, runtime.NewError(runtime.NameError, "%s has no member %q", s.name, member)
}

func (ec *ExecutionContext) writeMember(h runtime.HandleValue, member string, v runtime.Value) error {
	s, err := ec.engine.serviceOf(h)
	if err != nil {
		return err
	}
	if !s.fieldOK[member] {
		return runtime.NewError(runtime.NameError, "%s has no field %q", s.name, member)
	}
	return ec.writeState(fieldKey(h.ID, member), v)
}

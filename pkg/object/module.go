package object

// Module is a compilation unit's namespace: its own global table plus
// the top-level Function that runs its body. import binds a Module
// object into the importing module's globals.
type Module struct {
	Header
	Name    *String
	Globals map[string]Value
	Main    *Function
}

func NewModule(name *String) *Module {
	m := &Module{Name: name, Globals: make(map[string]Value)}
	m.kind = ObjModule
	return m
}

func (m *Module) GetGlobal(name string) (Value, bool) {
	v, ok := m.Globals[name]
	return v, ok
}

func (m *Module) SetGlobal(name string, v Value) {
	m.Globals[name] = v
}

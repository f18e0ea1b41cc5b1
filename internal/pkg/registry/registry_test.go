package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModule struct {
	name     string
	priority int
	initFn   func(ctx *ModuleContext) error
}

func (m *testModule) Name() string                 { return m.name }
func (m *testModule) Priority() int                { return m.priority }
func (m *testModule) Init(ctx *ModuleContext) error { return m.initFn(ctx) }

func withRegistry(t *testing.T, modules ...Module) {
	saved := moduleRegistry
	moduleRegistry = make(map[string]Module)
	for _, m := range modules {
		Register(m)
	}
	t.Cleanup(func() { moduleRegistry = saved })
}

func TestInitModulesOrderAndServices(t *testing.T) {
	var order []string
	withRegistry(t,
		&testModule{name: "payment", priority: 20, initFn: func(ctx *ModuleContext) error {
			order = append(order, "payment")
			svc, err := ctx.Resolve("order.service")
			require.NoError(t, err)
			assert.Equal(t, "orders", svc)
			return nil
		}},
		&testModule{name: "order", priority: 10, initFn: func(ctx *ModuleContext) error {
			order = append(order, "order")
			ctx.Provide("order.service", "orders")
			return nil
		}},
	)

	require.NoError(t, InitModules(&ModuleContext{}))
	assert.Equal(t, []string{"order", "payment"}, order)
}

func TestInitModulesStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	withRegistry(t, &testModule{name: "broken", priority: 1, initFn: func(*ModuleContext) error { return boom }})

	err := InitModules(&ModuleContext{})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
}

func TestResolveMissing(t *testing.T) {
	_, err := (&ModuleContext{}).Resolve("nothing")
	assert.Error(t, err)
}

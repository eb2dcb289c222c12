package definition

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
	"go.uber.org/multierr"
)

// Catalog binds the function names used in definitions to transforms.
type Catalog struct {
	mu         sync.RWMutex
	transforms map[string]types.Transform
}

func NewCatalog() *Catalog {
	return &Catalog{transforms: make(map[string]types.Transform)}
}

func (c *Catalog) Register(name string, transform types.Transform) error {
	if name == "" || transform == nil {
		return errors.BadRequestf("function %q without transform", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.transforms[name]; exists {
		return errors.AlreadyExistsf("function %s", name)
	}
	c.transforms[name] = transform
	return nil
}

func (c *Catalog) RegisterFunc(name string, fn types.TransformFunc) error {
	return c.Register(name, fn)
}

// RegisterAll registers every entry, in name order, and stops at the first failure.
func (c *Catalog) RegisterAll(transforms map[string]types.Transform) error {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Register(name, transforms[name]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (c *Catalog) Get(name string) (types.Transform, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, exists := c.transforms[name]
	return t, exists
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.transforms))
	for name := range c.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind sets the transform of every node that has none yet. All unknown
// functions are reported together.
func (c *Catalog) Bind(dag *types.DAG) error {
	var errs error
	for _, name := range dag.NodeNames() {
		node := dag.Node(name)
		if node.Transform != nil {
			continue
		}
		t, exists := c.Get(node.Function)
		if !exists {
			errs = multierr.Append(errs, errors.NotFoundf("dag %s node %s function %q", dag.Name, name, node.Function))
			continue
		}
		node.Transform = t
	}
	return errs
}

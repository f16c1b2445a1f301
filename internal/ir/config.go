package ir

// Config is a fully assembled stack: the desired resources plus the
// outputs surfaced to the caller after deploy.
type Config struct {
	Name      string             `json:"name,omitempty"`
	Resources []*Resource        `json:"resources"`
	Outputs   map[string]*Output `json:"outputs,omitempty"`
}

// Output declares a stack-level output. Value is usually a reference
// built with Ref, resolved against state after apply.
type Output struct {
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// Resource returns the declared resource at addr, or nil.
func (c *Config) Resource(addr string) *Resource {
	for _, r := range c.Resources {
		if r.Addr() == addr {
			return r
		}
	}
	return nil
}

// Enabled returns the resources that are not disabled, in declaration
// order.
func (c *Config) Enabled() []*Resource {
	out := make([]*Resource, 0, len(c.Resources))
	for _, r := range c.Resources {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}

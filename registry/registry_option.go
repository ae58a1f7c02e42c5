package registry

type RegisterConfig struct {
	Name string
}

type RegisterOption interface {
	applyRegisterOption(RegisterConfig) RegisterConfig
}

type registerOptions []RegisterOption

func (opts registerOptions) apply(cfg RegisterConfig) RegisterConfig {
	for _, opt := range opts {
		cfg = opt.applyRegisterOption(cfg)
	}
	return cfg
}

type registerOptionFunc func(RegisterConfig) RegisterConfig

func (f registerOptionFunc) applyRegisterOption(cfg RegisterConfig) RegisterConfig {
	return f(cfg)
}

// WithName overrides the name a workflow or task is registered under.
func WithName(name string) RegisterOption {
	return registerOptionFunc(func(cfg RegisterConfig) RegisterConfig {
		cfg.Name = name
		return cfg
	})
}

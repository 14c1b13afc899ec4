package config

// Clone returns a deep copy so per-pair runs never alias each other's settings
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	out := *c
	if c.Logging != nil {
		l := *c.Logging
		out.Logging = &l
	}
	if c.Batch != nil {
		b := *c.Batch
		out.Batch = &b
	}

	out.Simulation.RouteFiles = cloneStrings(c.Simulation.RouteFiles)
	out.Simulation.AdditionalFiles = cloneStrings(c.Simulation.AdditionalFiles)
	out.Simulation.ExtraArgs = cloneStrings(c.Simulation.ExtraArgs)

	if c.CFModel.Parameters != nil {
		out.CFModel.Parameters = make(map[string]Parameter, len(c.CFModel.Parameters))
		for name, p := range c.CFModel.Parameters {
			cp := Parameter{SearchSpace: p.SearchSpace}
			if p.Value != nil {
				v := *p.Value
				cp.Value = &v
			}
			if p.Args != nil {
				cp.Args = append([]float64(nil), p.Args...)
			}
			out.CFModel.Parameters[name] = cp
		}
	}

	if c.Optimization.EarlyStopping != nil {
		es := *c.Optimization.EarlyStopping
		out.Optimization.EarlyStopping = &es
	}
	if c.Trajectory.LeaderID != nil {
		id := *c.Trajectory.LeaderID
		out.Trajectory.LeaderID = &id
	}

	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

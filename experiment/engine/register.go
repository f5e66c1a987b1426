// register.go wires the GROMACS backend into experiment's engine registry.
// This init() runs when any package imports experiment/engine, breaking the
// import cycle between experiment/ (interface owner) and experiment/engine/
// (implementation).
package engine

import "github.com/alexisiddiqui/xMD-HOIP/experiment"

func init() {
	experiment.RegisterEngine("gromacs", func(s experiment.Settings, ex experiment.Executor) (experiment.Engine, error) {
		if ex == nil {
			ex = NewExecExecutor()
		}
		return NewGromacs(s, ex), nil
	})
}

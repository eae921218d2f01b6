package budget

import (
	"strconv"

	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// componentMonthlyCost is the rough monthly USD baseline per component
// type, used to gate deployments before real billing data exists.
// Inference runtimes dominate because they hold accelerator capacity.
var componentMonthlyCost = map[types.ComponentType]float64{
	types.ComponentDatabase:         40,
	types.ComponentCache:            15,
	types.ComponentObjectStore:      10,
	types.ComponentVectorStore:      35,
	types.ComponentGateway:          10,
	types.ComponentInferenceRuntime: 150,
}

// EstimateCost returns the estimated monthly cost of running the spec:
// per-type baseline times replicas, enabled components only. Unknown
// component types cost nothing rather than blocking admission.
func EstimateCost(spec *types.DeploymentSpec) float64 {
	if spec == nil {
		return 0
	}
	var total float64
	for _, comp := range spec.Components {
		if !comp.Enabled {
			continue
		}
		baseline := componentMonthlyCost[comp.Type]
		total += baseline * float64(specReplicas(comp))
	}
	return total
}

func specReplicas(comp types.ComponentSpec) int {
	raw, ok := comp.Config["replicas"]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

package provider

import (
	"fmt"
	"sort"

	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
)

// RegisterAll creates a GatewayInvoker for every endpoint and registers it
// under the endpoint name. Endpoints are registered in name order so that a
// failure reports the same endpoint on every run.
func RegisterAll(reg *pipeline.InvokerRegistry, endpoints []Endpoint, metrics *observability.Metrics) error {
	sorted := append([]Endpoint(nil), endpoints...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, ep := range sorted {
		if _, exists := reg.Get(ep.Name); exists {
			return fmt.Errorf("provider %q registered twice", ep.Name)
		}
		inv, err := NewGatewayInvoker(ep, metrics)
		if err != nil {
			return err
		}
		reg.Register(ep.Name, inv)
	}
	return nil
}

package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// PushGateway sends the stacktag registry to a Prometheus Pushgateway under
// the given job, grouped by image when one is set.
func PushGateway(ctx context.Context, gatewayURL, job, image string) error {
	if gatewayURL == "" {
		return nil
	}
	p := push.New(gatewayURL, job).Gatherer(Registry)
	if image != "" {
		p = p.Grouping("image", image)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

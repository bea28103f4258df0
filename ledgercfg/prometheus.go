package ledgercfg

import (
	"fmt"
	"net"
)

// DefaultPrometheusListen is the default address of the metrics endpoint.
const DefaultPrometheusListen = "127.0.0.1:8989"

// Prometheus configures the Prometheus exporter.
type Prometheus struct {
	Enable bool `long:"enable" description:"Serve ledger statistics on a Prometheus endpoint."`

	Listen string `long:"listen" description:"The address the Prometheus exporter listens on."`
}

// DefaultPrometheus returns a disabled exporter config.
func DefaultPrometheus() *Prometheus {
	return &Prometheus{
		Listen: DefaultPrometheusListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

// Validate checks the listen address when the exporter is enabled.
func (p *Prometheus) Validate() error {
	if !p.Enable {
		return nil
	}

	if _, _, err := net.SplitHostPort(p.Listen); err != nil {
		return fmt.Errorf("invalid prometheus listen address %q: %w",
			p.Listen, err)
	}

	return nil
}

var _ Validator = (*Prometheus)(nil)

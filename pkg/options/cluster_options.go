package options

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ClusterOptions)(nil)

// ClusterMember describes one candidate backend endpoint.
type ClusterMember struct {
	Name     string `json:"name" mapstructure:"name"`
	URL      string `json:"url" mapstructure:"url"`
	Region   string `json:"region" mapstructure:"region"`
	Priority int    `json:"priority" mapstructure:"priority"`

	// Broker is the bus endpoint to use while this member is active.
	// Empty keeps the broker from --mqtt.broker.
	Broker string `json:"broker,omitempty" mapstructure:"broker"`
}

// ClusterOptions configures health checking and failover.
type ClusterOptions struct {
	Members []ClusterMember `json:"members" mapstructure:"members"`

	HealthInterval   time.Duration `json:"health-interval" mapstructure:"health-interval"`
	ProbeTimeout     time.Duration `json:"probe-timeout" mapstructure:"probe-timeout"`
	ProbeConcurrency int           `json:"probe-concurrency" mapstructure:"probe-concurrency"`

	// OptimizeMargin is the latency improvement required before leaving a
	// healthy active member for an equal or better priority one.
	OptimizeMargin time.Duration `json:"optimize-margin" mapstructure:"optimize-margin"`

	// ReplicateTimeout bounds each session replication call.
	ReplicateTimeout time.Duration `json:"replicate-timeout" mapstructure:"replicate-timeout"`

	memberSpecs []string
}

// NewClusterOptions returns the four-member topology used by default.
func NewClusterOptions() *ClusterOptions {
	return &ClusterOptions{
		Members: []ClusterMember{
			{Name: "primary", URL: "https://drone-primary.example.com", Region: "us-west", Priority: 1},
			{Name: "secondary", URL: "https://drone-secondary.example.com", Region: "us-east", Priority: 2},
			{Name: "edge", URL: "https://drone-edge.example.com", Region: "edge", Priority: 3},
			{Name: "cellular", URL: "https://drone-lte.example.com", Region: "cellular", Priority: 4},
		},
		HealthInterval:   5 * time.Second,
		ProbeTimeout:     2 * time.Second,
		ProbeConcurrency: 4,
		OptimizeMargin:   50 * time.Millisecond,
		ReplicateTimeout: 5 * time.Second,
	}
}

// Complete replaces the member table when --cluster.member was given.
func (o *ClusterOptions) Complete() error {
	if len(o.memberSpecs) == 0 {
		return nil
	}

	members := make([]ClusterMember, 0, len(o.memberSpecs))
	for _, spec := range o.memberSpecs {
		m, err := parseMemberSpec(spec)
		if err != nil {
			return err
		}
		members = append(members, m)
	}
	o.Members = members
	return nil
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *ClusterOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if len(o.Members) == 0 {
		errs = append(errs, errors.New("at least one cluster member is required"))
	}

	seen := make(map[string]struct{}, len(o.Members))
	for _, m := range o.Members {
		if m.Name == "" {
			errs = append(errs, errors.New("cluster member name must not be empty"))
			continue
		}
		if _, dup := seen[m.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate cluster member %q", m.Name))
			continue
		}
		seen[m.Name] = struct{}{}

		if u, err := url.Parse(m.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("cluster member %q has an invalid url %q", m.Name, m.URL))
		}
	}

	if o.HealthInterval <= 0 {
		errs = append(errs, errors.New("--cluster.health-interval must be positive"))
	}
	if o.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("--cluster.probe-timeout must be positive"))
	} else if o.HealthInterval > 0 && o.ProbeTimeout >= o.HealthInterval {
		errs = append(errs, errors.New("--cluster.probe-timeout must be shorter than --cluster.health-interval"))
	}
	if o.ProbeConcurrency < 1 {
		errs = append(errs, errors.New("--cluster.probe-concurrency must be at least 1"))
	}
	if o.OptimizeMargin < 0 {
		errs = append(errs, errors.New("--cluster.optimize-margin must not be negative"))
	}

	return errs
}

// AddFlags adds flags for ClusterOptions to the specified FlagSet.
func (o *ClusterOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringArrayVar(&o.memberSpecs, "cluster.member", nil,
		"Cluster member as name=url[,region=r][,priority=n][,broker=b]. Repeat for each member; replaces the default table.")
	fs.DurationVar(&o.HealthInterval, "cluster.health-interval", o.HealthInterval, "Interval between health probe rounds.")
	fs.DurationVar(&o.ProbeTimeout, "cluster.probe-timeout", o.ProbeTimeout, "Timeout of a single health probe.")
	fs.IntVar(&o.ProbeConcurrency, "cluster.probe-concurrency", o.ProbeConcurrency, "Maximum number of concurrent health probes.")
	fs.DurationVar(&o.OptimizeMargin, "cluster.optimize-margin", o.OptimizeMargin, "Latency improvement required to switch to a healthy alternative.")
	fs.DurationVar(&o.ReplicateTimeout, "cluster.replicate-timeout", o.ReplicateTimeout, "Timeout of a single session replication call.")
}

func parseMemberSpec(spec string) (ClusterMember, error) {
	parts := strings.Split(spec, ",")
	name, rawURL, ok := strings.Cut(parts[0], "=")
	if !ok || name == "" || rawURL == "" {
		return ClusterMember{}, fmt.Errorf("invalid cluster member %q: want name=url", spec)
	}

	m := ClusterMember{Name: name, URL: rawURL}
	for _, kv := range parts[1:] {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "region":
			m.Region = v
		case "broker":
			m.Broker = v
		case "priority":
			p, err := strconv.Atoi(v)
			if err != nil {
				return ClusterMember{}, fmt.Errorf("invalid priority in cluster member %q: %w", spec, err)
			}
			m.Priority = p
		default:
			return ClusterMember{}, fmt.Errorf("unknown attribute %q in cluster member %q", k, spec)
		}
	}
	return m, nil
}

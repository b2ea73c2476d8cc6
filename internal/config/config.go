package config

import (
	"github.com/imamik/fleetrun/internal/platform/ssh"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// Backend names.
const (
	BackendNone   = "none"
	BackendHCloud = "hcloud"
	BackendEC2    = "ec2"
)

// Defaults applied by Load.
const (
	DefaultInstanceLog = "cloudnodes.lst"
	DefaultKeyPath     = "~/.ssh/fleetrun_rsa"
	DefaultLocation    = "fsn1"
	DefaultRegion      = "us-east-1"
	DefaultEscalation  = "login"
)

// Config is the cluster file.
type Config struct {
	Name        string `yaml:"name"`
	Backend     string `yaml:"backend"`
	HostPrefix  string `yaml:"host_prefix"`
	InstanceLog string `yaml:"instance_log"`
	// Credentials is a shell rc file with vendor credentials.
	Credentials string `yaml:"credentials"`
	// Escalation is how root commands run on nodes: "login" dials root
	// directly, "sudo" wraps the command.
	Escalation string `yaml:"escalation"`

	Key       KeyConfig       `yaml:"key"`
	Provision ProvisionConfig `yaml:"provision"`
	HCloud    HCloudConfig    `yaml:"hcloud"`
	EC2       EC2Config       `yaml:"ec2"`
	S3        S3Config        `yaml:"s3"`

	// Nodes are existing machines adopted into the cluster.
	Nodes     []NodeConfig     `yaml:"nodes"`
	Artifacts []ArtifactConfig `yaml:"artifacts"`
}

// KeyConfig names the orchestrator key. A missing private key is
// generated on first use.
type KeyConfig struct {
	Path string `yaml:"path"`
	// Name is the key's name on the vendor side.
	Name string `yaml:"name"`
}

// ProvisionConfig is the provisioning request of the cluster file.
type ProvisionConfig struct {
	Count          int      `yaml:"count"`
	Image          string   `yaml:"image"`
	Flavor         string   `yaml:"flavor"`
	SpotBid        string   `yaml:"spot_bid"`
	SpotFallback   string   `yaml:"spot_fallback"`
	SecurityGroups []string `yaml:"security_groups"`
	Subnet         string   `yaml:"subnet"`
	AssociateIP    bool     `yaml:"associate_ip"`
	NameSuffix     string   `yaml:"name_suffix"`
	User           string   `yaml:"user"`
	// VerifyHostname reboots every new node once to check that its
	// hostname survives.
	VerifyHostname bool `yaml:"verify_hostname"`
}

// HCloudConfig holds Hetzner Cloud settings.
type HCloudConfig struct {
	Location string `yaml:"location"`
	Network  string `yaml:"network"`
}

// EC2Config holds EC2 settings.
type EC2Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// S3Config is the object store artifacts may be staged from.
type S3Config struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
}

// NodeConfig is one adopted machine.
type NodeConfig struct {
	Address         string `yaml:"address"`
	ExternalAddress string `yaml:"external_address"`
	User            string `yaml:"user"`
	Key             string `yaml:"key"`
}

// ArtifactConfig is one file or directory copied to every node. Sources
// starting with s3:// are fetched from the object store first.
type ArtifactConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Recursive   bool   `yaml:"recursive"`
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendNone
	}
	if c.HostPrefix == "" {
		c.HostPrefix = naming.DefaultHostPrefix
	}
	if c.InstanceLog == "" {
		c.InstanceLog = DefaultInstanceLog
	}
	if c.Escalation == "" {
		c.Escalation = DefaultEscalation
	}
	if c.Key.Path == "" {
		c.Key.Path = DefaultKeyPath
	}
	if c.Key.Name == "" && c.Name != "" {
		c.Key.Name = naming.SSHKey(c.Name)
	}
	if c.HCloud.Location == "" {
		c.HCloud.Location = DefaultLocation
	}
	if c.EC2.Region == "" {
		c.EC2.Region = DefaultRegion
	}
	if c.S3.Region == "" {
		c.S3.Region = c.EC2.Region
	}
	for i := range c.Nodes {
		if c.Nodes[i].Key == "" {
			c.Nodes[i].Key = c.Key.Path
		}
	}
}

// ProvisionRequest turns the provision section into a request.
func (c *Config) ProvisionRequest() (provisioning.Request, error) {
	bid, err := provisioning.ParseBid(c.Provision.SpotBid)
	if err != nil {
		return provisioning.Request{}, err
	}
	fallback := provisioning.FallbackOnDemand
	if c.Provision.SpotFallback == "none" {
		fallback = provisioning.FallbackNone
	}
	return provisioning.Request{
		Count:               c.Provision.Count,
		Image:               c.Provision.Image,
		Flavor:              c.Provision.Flavor,
		Bid:                 bid,
		Fallback:            fallback,
		SecurityGroups:      c.Provision.SecurityGroups,
		Subnet:              c.Provision.Subnet,
		AssociateExternalIP: c.Provision.AssociateIP,
		NameSuffix:          c.Provision.NameSuffix,
		KeyName:             c.Key.Name,
		User:                c.Provision.User,
	}, nil
}

// SSHEscalation returns how root commands are run.
func (c *Config) SSHEscalation() ssh.Escalation {
	if c.Escalation == "sudo" {
		return ssh.EscalateSudo
	}
	return ssh.EscalateLogin
}

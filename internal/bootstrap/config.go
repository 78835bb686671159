// Package bootstrap parses the environment-variable contract every
// executor process is launched with into a validated Config, failing
// fast on a configuration error rather than letting a malformed
// environment surface as a confusing failure deep inside the
// runtime.
package bootstrap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Node describes one peer's three service endpoints.
type Node struct {
	Host    string
	SvcPap  string
	SvcMem  string
	SvcDmn  string
}

// Config is the fully validated result of reading the GAM_* bootstrap
// variables.
type Config struct {
	Rank        uint32
	Cardinality uint32
	Nodes       []Node // len == Cardinality, indexed by rank
	LogPrefix   string
}

// FromEnv reads and validates the bootstrap environment. Any missing
// or malformed variable is returned as an error; callers are expected
// to log it and exit non-zero rather than construct a Context.
func FromEnv() (Config, error) {
	rank, err := envUint32("GAM_RANK")
	if err != nil {
		return Config{}, err
	}
	cardinality, err := envUint32("GAM_CARDINALITY")
	if err != nil {
		return Config{}, err
	}
	if cardinality == 0 {
		return Config{}, errors.New("bootstrap: GAM_CARDINALITY must be positive")
	}
	if rank >= cardinality {
		return Config{}, errors.Errorf("bootstrap: GAM_RANK %d out of range [0,%d)", rank, cardinality)
	}

	nodes := make([]Node, cardinality)
	for i := uint32(0); i < cardinality; i++ {
		host, err := envString(fmt.Sprintf("GAM_NODE_%d", i))
		if err != nil {
			return Config{}, err
		}
		pap, err := envString(fmt.Sprintf("GAM_SVC_PAP_%d", i))
		if err != nil {
			return Config{}, err
		}
		mem, err := envString(fmt.Sprintf("GAM_SVC_MEM_%d", i))
		if err != nil {
			return Config{}, err
		}
		dmn, err := envString(fmt.Sprintf("GAM_SVC_DMN_%d", i))
		if err != nil {
			return Config{}, err
		}
		nodes[i] = Node{Host: host, SvcPap: pap, SvcMem: mem, SvcDmn: dmn}
	}

	return Config{
		Rank:        rank,
		Cardinality: cardinality,
		Nodes:       nodes,
		LogPrefix:   os.Getenv("GAM_LOG_PREFIX"),
	}, nil
}

func envString(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", errors.Errorf("bootstrap: required environment variable %s is not set", name)
	}
	return v, nil
}

func envUint32(name string) (uint32, error) {
	v, err := envString(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bootstrap: parsing %s=%q", name, v)
	}
	return uint32(n), nil
}

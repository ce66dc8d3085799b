// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
max_iter: 120
exact_hessian: true
tol_du: 1.0e-9
beta: 0.5
`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.MaxIter = 120
	want.ExactHessian = true
	want.TolDu = 1e-9
	want.Beta = 0.5
	require.Equal(t, want, cfg)
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejects(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("max_iters: 10\n"))
	require.ErrorContains(t, err, "decode config")

	_, err = LoadConfig(strings.NewReader("beta: 1.5\n"))
	require.ErrorContains(t, err, "invalid config")
	require.ErrorContains(t, err, "beta")

	_, err = LoadConfig(strings.NewReader("max_iter: [1]\n"))
	require.Error(t, err)
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LBFGSMemory = 3
	cfg.Regularize = false
	cfg.Sigma = 2.5

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	require.NoError(t, enc.Encode(cfg))
	require.NoError(t, enc.Close())
	require.Contains(t, buf.String(), "lbfgs_memory: 3")

	got, err := LoadConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestConfigValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"max_iter":      func(c *Config) { c.MaxIter = -1 },
		"max_iter_ls":   func(c *Config) { c.MaxIterLS = 0 },
		"tol_pr":        func(c *Config) { c.TolPr = -1 },
		"min_step_size": func(c *Config) { c.MinStepSize = 0 },
		"lbfgs_memory":  func(c *Config) { c.LBFGSMemory = 0 },
		"c1":            func(c *Config) { c.C1 = 1 },
		"merit_memsize": func(c *Config) { c.MeritMemsize = 0 },
		"reg":           func(c *Config) { c.Reg = 0 },
		"resets":        func(c *Config) { c.MaxHessianResets = -1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

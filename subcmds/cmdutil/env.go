// Copyright (c) 2023 BVK Chaitanya

package cmdutil

import (
	"flag"

	"github.com/kucing007/lelang-cli/envfile"
)

// EnvFileName is the name of the env file with LELANG_* variables.
const EnvFileName = ".lelang.env"

type EnvFlags struct {
	envSearch bool
}

func (f *EnvFlags) SetFlags(fset *flag.FlagSet) {
	fset.BoolVar(&f.envSearch, "env-search", false, "when true, env file is searched in the current and parent directories instead of the home directory")
}

// LoadEnv updates the process environment from the env file. Variables that
// are already set keep their values.
func (f *EnvFlags) LoadEnv() error {
	var opts []envfile.Option
	if f.envSearch {
		opts = append(opts, envfile.SearchCurrentDir(true))
	}
	return envfile.UpdateEnv(EnvFileName, opts...)
}

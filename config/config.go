package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
)

/**
 * Load reads engine and compiler options from a TOML file. Keys missing
 * from the file keep their defaults, unknown keys are rejected:
 *
 *	environment = "prod"
 *	max-node-concurrency = 16
 *	run-retention = "30m"
 *
 *	[default-retry]
 *	max-attempts = 3
 *	backoff = "2s"
 *
 *	[postgres]
 *	host = "db.internal"
 */
func Load(path string) (*types.FlowOptions, error) {
	opts := types.NewFlowOptions()
	if err := DecodeFile(path, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// DecodeFile overlays the file onto opts.
func DecodeFile(path string, opts *types.FlowOptions) error {
	md, err := toml.DecodeFile(path, opts)
	if err != nil {
		return errors.Annotatef(err, "decode %s", path)
	}
	return checkUndecoded(path, md)
}

// Decode overlays TOML text onto opts.
func Decode(data string, opts *types.FlowOptions) error {
	md, err := toml.Decode(data, opts)
	if err != nil {
		return errors.Annotate(err, "decode config")
	}
	return checkUndecoded("config", md)
}

func checkUndecoded(name string, md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return errors.NotValidf("%s: unknown keys %s", name, strings.Join(keys, ", "))
}

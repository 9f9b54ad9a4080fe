package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaCUE is the closed schema a lokitest.cue file must satisfy. Closed
// definitions reject unknown fields the same way the YAML decoder does.
const schemaCUE = `
#Tool: {
	command: string & !=""
	args?: [...string]
	env?: [string]: string
}

#Config: {
	mode?:      "two-step" | "direct"
	compiler?:  #Tool
	toolchain?: #Tool
	tests?: {
		dir?: string
		ext?: string
	}
	target?: {
		dir?:            string
		artifact_ext?:   string
		executable_ext?: string
	}
	timeout?: string
	jobs?:    int & >=1
}
`

func parseCUE(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("lokitest-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("building config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid CUE config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding CUE config: %w", err)
	}
	return &cfg, nil
}

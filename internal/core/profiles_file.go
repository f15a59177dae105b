package core

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// profilesFile is the on-disk shape of PROFILES_FILE:
//
//	profiles:
//	  - key: offer
//	    label: Offer letter
//	    display_field: name
//	    variables:
//	      - name: name
//	        column: Full Name
//	      - name: start_date
//	        column: Start
//	        default: TBD
type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// DecodeProfiles parses a profiles document. Unknown keys are rejected.
func DecodeProfiles(r io.Reader) ([]Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc profilesFile
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	for _, p := range doc.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Profiles, nil
}

// LoadProfilesFile reads path and registers every profile in it, replacing
// registered profiles with the same key. Returns the number loaded.
func LoadProfilesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read profiles file: %w", err)
	}

	profiles, err := DecodeProfiles(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	for _, p := range profiles {
		if err := Put(p); err != nil {
			return 0, err
		}
	}
	return len(profiles), nil
}

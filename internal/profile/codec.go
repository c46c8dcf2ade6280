package profile

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Unmarshal parses a YAML profile document and validates it.
func Unmarshal(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal serializes a profile to YAML.
func Marshal(p *Profile) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serializing profile %s: %w", p.Name, err)
	}
	return data, nil
}

// Validate runs struct-tag validation plus the semantic checks tags cannot
// express, notably duplicate unit identities.
func Validate(p *Profile) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %s invalid: %w", p.Name, err)
	}

	repos := make(map[string]bool, len(p.Repositories))
	for _, uri := range p.Repositories {
		if repos[uri] {
			return fmt.Errorf("profile %s invalid: duplicate repository %s", p.Name, uri)
		}
		repos[uri] = true
	}

	bundles := make(map[string]bool, len(p.Bundles))
	for _, b := range p.Bundles {
		key := b.ID.String()
		if bundles[key] {
			return fmt.Errorf("profile %s invalid: duplicate bundle %s", p.Name, key)
		}
		bundles[key] = true
	}

	features := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		key := f.EffectiveRegion() + "/" + f.ID.String()
		if features[key] {
			return fmt.Errorf("profile %s invalid: duplicate feature %s", p.Name, key)
		}
		features[key] = true
	}

	return nil
}

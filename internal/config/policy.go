package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable business rules of dose allocation.
type Policy struct {
	Budget     BudgetPolicy     `yaml:"budget"`
	Projection ProjectionPolicy `yaml:"projection"`
}

// BudgetPolicy sets outreach allowances per available dose.
type BudgetPolicy struct {
	SMSPerDose            int      `yaml:"sms_per_dose"`
	EmailPerDose          int      `yaml:"email_per_dose"`
	SMSRestrictedVaccines []string `yaml:"sms_restricted_vaccines"`
}

// ProjectionPolicy holds the empirically fitted response curve coefficients.
type ProjectionPolicy struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// DefaultPolicy returns the policy used when no file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Budget: BudgetPolicy{
			SMSPerDose:   5,
			EmailPerDose: 300,
		},
		Projection: ProjectionPolicy{
			A: 1.498,
			B: 0.007,
			C: 0.435,
		},
	}
}

// LoadPolicy reads a YAML policy file. Fields absent from the file keep their
// default values; an empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(b, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) validate() error {
	if p.Budget.SMSPerDose < 0 || p.Budget.EmailPerDose < 0 {
		return errors.New("policy: budget multipliers must not be negative")
	}
	if p.Projection.A <= 0 {
		return errors.New("policy: projection.a must be positive")
	}
	return nil
}

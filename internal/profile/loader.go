package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Extensions lists the profile file extensions the loader understands, in
// lookup order.
var Extensions = []string{".toml", ".yaml", ".yml", ".json"}

// Load reads, decodes, and validates a profile file. The codec follows the
// file extension.
func Load(path string) (*FullProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sboxerrors.NewParseError(path, 0, err)
	}

	var p FullProfile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".json":
		err = json.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	default:
		return nil, sboxerrors.NewParseError(path, 0,
			fmt.Errorf("unsupported profile extension %q", filepath.Ext(path)))
	}
	if err != nil {
		return nil, sboxerrors.NewParseError(path, 0, err)
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		p.Dir = filepath.Dir(abs)
	}
	return &p, nil
}

// Validate checks structural rules plus the per-subscription constraints the
// struct tags cannot express.
func Validate(p *FullProfile) error {
	v := validatorInstance()
	if err := v.Struct(p); err != nil {
		return sboxerrors.NewValidationError("profile", err.Error(), err)
	}

	for i, sub := range p.Subscriptions {
		field := fmt.Sprintf("subscriptions[%d]", i)
		if sub.URL == "" && sub.Path == "" {
			return sboxerrors.NewValidationError(field, "either url or path is required", nil)
		}
		if err := v.Var(sub.URL, "subscription_url"); err != nil {
			return sboxerrors.NewValidationError(field+".url",
				fmt.Sprintf("unsupported subscription url %q", sub.URL), err)
		}
	}
	return nil
}

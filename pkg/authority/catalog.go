package authority

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Authority describes one class of external identifier the index
// accepts as an alias type.
type Authority struct {
	Display string `yaml:"display" json:"display"`
	System  string `yaml:"system" json:"system"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

type Catalog struct {
	Authorities map[string]Authority `yaml:"authorities" json:"authorities"`

	patterns map[string]*regexp.Regexp
}

// Load reads the authority catalog at path. A blank path selects the
// built-in defaults. Every failure also yields the defaults, with the
// error returned so the caller can log it, so a broken catalog file
// never leaves the index unable to accept any alias type.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return DefaultCatalog(), err
	}
	if len(cat.Authorities) == 0 {
		return DefaultCatalog(), fmt.Errorf("authority catalog empty")
	}
	if err := cat.compile(); err != nil {
		return DefaultCatalog(), err
	}
	return cat, nil
}

func (c *Catalog) compile() error {
	c.patterns = make(map[string]*regexp.Regexp)
	for key, auth := range c.Authorities {
		if auth.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(auth.Pattern)
		if err != nil {
			return fmt.Errorf("authority %q has invalid pattern: %w", key, err)
		}
		c.patterns[strings.ToLower(key)] = re
	}
	return nil
}

func (c Catalog) Lookup(key string) (Authority, bool) {
	if c.Authorities == nil {
		return Authority{}, false
	}
	auth, ok := c.Authorities[strings.ToLower(key)]
	if ok {
		return auth, true
	}
	for k, v := range c.Authorities {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return Authority{}, false
}

// Validate checks that the alias type is a known authority and, when
// the authority declares a pattern, that the value matches it. The
// value is matched after trimming, consistent with alias
// normalization.
func (c Catalog) Validate(aliasType, value string) error {
	key := strings.ToLower(strings.TrimSpace(aliasType))
	if _, ok := c.Lookup(key); !ok {
		return fmt.Errorf("unknown alias type %q", aliasType)
	}
	if re, ok := c.patterns[key]; ok {
		if !re.MatchString(strings.TrimSpace(value)) {
			return fmt.Errorf("value %q is not a valid %s", value, key)
		}
	}
	return nil
}

func DefaultCatalog() Catalog {
	cat := Catalog{Authorities: map[string]Authority{
		"mrn": {
			Display: "Medical Record Number",
			System:  "urn:empi:mrn",
		},
		"national-id": {
			Display: "National Identity Number",
			System:  "urn:empi:national-id",
		},
		"passport": {
			Display: "Passport Number",
			System:  "urn:empi:passport",
			Pattern: `^[A-Za-z0-9]{6,12}$`,
		},
		"insurance-id": {
			Display: "Insurance Member ID",
			System:  "urn:empi:insurance-id",
		},
		"drivers-license": {
			Display: "Driver's License Number",
			System:  "urn:empi:drivers-license",
		},
	}}
	if err := cat.compile(); err != nil {
		// Built-in patterns are constants; a failure here is a
		// programming error.
		panic(err)
	}
	return cat
}

package vat

import (
	_ "embed"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var embeddedRates []byte

// rateFile is the YAML layout of a rate table file.
type rateFile struct {
	Countries []struct {
		Code  string `yaml:"code"`
		Name  string `yaml:"name"`
		Rates []struct {
			Type string `yaml:"type"`
			Rate string `yaml:"rate"`
			From string `yaml:"from"`
			To   string `yaml:"to"`
		} `yaml:"rates"`
	} `yaml:"countries"`
	Overrides []struct {
		Name      string `yaml:"name"`
		Country   string `yaml:"country"`
		Buyer     string `yaml:"buyer"`
		Treatment string `yaml:"treatment"`
		Rate      string `yaml:"rate"`
		From      string `yaml:"from"`
		To        string `yaml:"to"`
	} `yaml:"overrides"`
}

// RuleSet is a parsed rate table file.
type RuleSet struct {
	Rates     []VATRate
	Overrides []Rule
}

// EmbeddedRuleSet returns the rule set compiled into the binary.
func EmbeddedRuleSet() (RuleSet, error) {
	return ParseRuleSet(embeddedRates, SourceEmbedded)
}

// ParseRuleSet decodes a YAML rate table.
func ParseRuleSet(data []byte, source string) (RuleSet, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RuleSet{}, errors.Wrap(err, "decode rate file")
	}

	var set RuleSet
	for _, c := range f.Countries {
		if len(c.Code) != 2 {
			return RuleSet{}, errors.Errorf("country code %q: must be two letters", c.Code)
		}
		for i, r := range c.Rates {
			rate, err := decimal.NewFromString(r.Rate)
			if err != nil {
				return RuleSet{}, errors.Wrapf(err, "%s rate #%d", c.Code, i)
			}
			from, to, err := parseRange(r.From, r.To)
			if err != nil {
				return RuleSet{}, errors.Wrapf(err, "%s rate #%d", c.Code, i)
			}
			rateType := r.Type
			if rateType == "" {
				rateType = RateTypeStandard
			}
			set.Rates = append(set.Rates, VATRate{
				CountryCode: c.Code,
				CountryName: c.Name,
				RateType:    rateType,
				Rate:        rate,
				ValidFrom:   from,
				ValidTo:     to,
				Source:      source,
			})
		}
	}
	if len(set.Rates) == 0 {
		return RuleSet{}, errors.New("rate file has no rates")
	}

	for _, o := range f.Overrides {
		rate, err := decimal.NewFromString(o.Rate)
		if err != nil {
			return RuleSet{}, errors.Wrapf(err, "override %q", o.Name)
		}
		from, to, err := parseRange(o.From, o.To)
		if err != nil {
			return RuleSet{}, errors.Wrapf(err, "override %q", o.Name)
		}
		buyer := BuyerType(o.Buyer)
		if buyer != "" && !buyer.Valid() {
			return RuleSet{}, errors.Errorf("override %q: unknown buyer %q", o.Name, o.Buyer)
		}
		treatment := Treatment(o.Treatment)
		if treatment == "" {
			treatment = TreatmentStandard
		}
		set.Overrides = append(set.Overrides, Override{
			Label:     o.Name,
			Country:   o.Country,
			Buyer:     buyer,
			Treatment: treatment,
			Rate:      rate,
			From:      from,
			To:        to,
		})
	}

	return set, nil
}

func parseRange(fromStr, toStr string) (time.Time, *time.Time, error) {
	from, err := time.Parse(time.DateOnly, fromStr)
	if err != nil {
		return time.Time{}, nil, errors.Wrap(err, "parse from")
	}
	if toStr == "" {
		return from, nil, nil
	}
	to, err := time.Parse(time.DateOnly, toStr)
	if err != nil {
		return time.Time{}, nil, errors.Wrap(err, "parse to")
	}
	if !to.After(from) {
		return time.Time{}, nil, errors.Errorf("range %s..%s is empty", fromStr, toStr)
	}
	return from, &to, nil
}

// Package manifest loads the subscription manifest: which topics to
// subscribe for each channel group.
//
// The manifest is a nested YAML mapping:
//
//	linear:
//	  BTCUSDT:
//	    - orderbook.1
//	    - publicTrade
//	  ETHUSDT:
//	    - orderbook.1
//
// Subscription arguments are derived as "{topicBase}.{symbol}", e.g.
// "orderbook.1.BTCUSDT".
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/xtxerr/tickvault/internal/errors"
)

// Manifest maps channel group → symbol → ordered topic-base list.
type Manifest map[string]map[string][]string

// Load loads the manifest from a YAML file. A missing or empty manifest is
// a fatal configuration fault.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrManifestMissing, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Configf("parse manifest %s: %v", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks every entry for structural errors and requires at least
// one subscription. All entries are scanned so the outcome does not depend
// on map iteration order.
func (m Manifest) Validate() error {
	subscriptions := 0
	for group, symbols := range m {
		if group == "" {
			return apperrors.Configf("manifest has an empty channel group name")
		}
		for symbol, topics := range symbols {
			if symbol == "" {
				return apperrors.Configf("manifest group %q has an empty symbol", group)
			}
			subscriptions += len(topics)
		}
	}
	if subscriptions == 0 {
		return apperrors.ErrManifestMissing
	}
	return nil
}

// Groups returns the configured channel groups in sorted order.
func (m Manifest) Groups() []string {
	groups := make([]string, 0, len(m))
	for group, symbols := range m {
		if len(m.argsFor(symbols)) == 0 {
			continue
		}
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// Args returns the subscription arguments for a channel group:
// "{topicBase}.{symbol}" for every declared pair. Symbols are visited in
// sorted order; topic order within a symbol is preserved.
func (m Manifest) Args(group string) []string {
	return m.argsFor(m[group])
}

func (Manifest) argsFor(symbols map[string][]string) []string {
	names := make([]string, 0, len(symbols))
	for symbol := range symbols {
		names = append(names, symbol)
	}
	sort.Strings(names)

	var args []string
	for _, symbol := range names {
		for _, base := range symbols[symbol] {
			args = append(args, base+"."+symbol)
		}
	}
	return args
}

// SplitTopic splits a dot-delimited topic into its base and instrument
// symbol (the last segment). A topic with no dot is all symbol.
func SplitTopic(topic string) (base, symbol string) {
	i := strings.LastIndexByte(topic, '.')
	if i < 0 {
		return "", topic
	}
	return topic[:i], topic[i+1:]
}

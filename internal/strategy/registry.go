package strategy

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stratmon/internal/domain"
)

// strategyFile is the on-disk JSON layout produced by the optimization
// tooling: one tuned strategy per file, named <SYMBOL>_<suffix>.json.
type strategyFile struct {
	Name          string                `json:"name"`
	Symbol        string                `json:"symbol"`
	SignalWeights map[string]float64    `json:"signal_weights"`
	Params        domain.StrategyParams `json:"params"`
	Performance   struct {
		TotalReturn float64 `json:"total_return"`
	} `json:"backtest_performance"`
}

// Registry loads strategy definitions from a directory of JSON files and
// keeps the best strategy per symbol, ranked by recorded backtest return.
type Registry struct {
	dir string
	log *slog.Logger
}

// NewRegistry creates a Registry reading from dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir: dir,
		log: slog.Default().With("component", "strategy-registry"),
	}
}

// Load reads every *.json file in the registry directory and returns the
// best strategy per symbol. Malformed files are logged and skipped; a
// missing directory yields an empty registry.
func (r *Registry) Load() (map[string]domain.StrategyDefinition, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("strategies directory missing", "dir", r.dir)
			return map[string]domain.StrategyDefinition{}, nil
		}
		return nil, err
	}

	best := make(map[string]domain.StrategyDefinition)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		def, ok := r.loadFile(e.Name())
		if !ok {
			continue
		}

		prev, seen := best[def.Symbol]
		if !seen || def.TotalReturn > prev.TotalReturn {
			best[def.Symbol] = def
		}
	}

	r.log.Info("strategies loaded", "dir", r.dir, "symbols", len(best))
	return best, nil
}

func (r *Registry) loadFile(name string) (domain.StrategyDefinition, bool) {
	path := filepath.Join(r.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		r.log.Warn("reading strategy file failed", "file", name, "err", err)
		return domain.StrategyDefinition{}, false
	}

	var sf strategyFile
	if err := json.Unmarshal(data, &sf); err != nil {
		r.log.Warn("parsing strategy file failed", "file", name, "err", err)
		return domain.StrategyDefinition{}, false
	}
	if len(sf.SignalWeights) == 0 {
		r.log.Warn("strategy file has no signal weights", "file", name)
		return domain.StrategyDefinition{}, false
	}

	symbol := strings.ToUpper(sf.Symbol)
	if symbol == "" {
		// Filename convention: <SYMBOL>_<suffix>.json
		base := strings.TrimSuffix(name, ".json")
		symbol = strings.ToUpper(strings.SplitN(base, "_", 2)[0])
	}

	strategyName := sf.Name
	if strategyName == "" {
		strategyName = strings.TrimSuffix(name, ".json")
	}

	return domain.StrategyDefinition{
		Name:          strategyName,
		Symbol:        symbol,
		SignalWeights: sf.SignalWeights,
		Params:        sf.Params,
		TotalReturn:   sf.Performance.TotalReturn,
	}, true
}

package adselection

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/filters"
	"github.com/fledge/fledge-server/jsengine"
	"github.com/fledge/fledge-server/signals"
	"github.com/fledge/fledge-server/storage"
)

type executorCall struct {
	functionName string
	source       string
	args         []json.RawMessage
}

// fakeExecutor scripts responses per function name and records every call.
type fakeExecutor struct {
	responses map[string]*jsengine.Response
	errs      map[string]error
	calls     []executorCall
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string]*jsengine.Response),
		errs:      make(map[string]error),
	}
}

func (f *fakeExecutor) Execute(_ context.Context, functionName, source string, args []json.RawMessage, _ time.Duration) (*jsengine.Response, error) {
	f.calls = append(f.calls, executorCall{functionName: functionName, source: source, args: args})
	if err, ok := f.errs[functionName]; ok {
		return nil, err
	}
	if resp, ok := f.responses[functionName]; ok {
		return resp, nil
	}
	return &jsengine.Response{Result: json.RawMessage(`null`)}, nil
}

func (f *fakeExecutor) callsTo(functionName string) []executorCall {
	var matched []executorCall
	for _, call := range f.calls {
		if call.functionName == functionName {
			matched = append(matched, call)
		}
	}
	return matched
}

func (f *fakeExecutor) returnScores(scores string) {
	f.responses[ScoreAdsFunction] = &jsengine.Response{Result: json.RawMessage(scores)}
}

func (f *fakeExecutor) returnReporting(functionName string, result string, beacons ...jsengine.Beacon) {
	f.responses[functionName] = &jsengine.Response{
		Result:  json.RawMessage(result),
		Beacons: beacons,
	}
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Timeouts: config.Timeouts{
			FetchMS:            1000,
			ScoringMS:          1000,
			PerScriptMS:        500,
			ReportImpressionMS: 5000,
		},
		Reporting: config.Reporting{
			BeaconsEnabled:             true,
			MaxRegisteredBeaconsTotal:  10,
			MaxInteractionKeySizeBytes: 64,
		},
		FrequencyCap: config.FrequencyCap{
			Enabled:                true,
			AbsoluteMaxTotalEvents: 1000,
			LowerMaxTotalEvents:    500,
		},
		Scoring: config.Scoring{
			JSCacheSizeBytes:  256 * 1024,
			JSCacheTTLSeconds: 60,
		},
	}
}

func testLogicSource(client *http.Client, overrides storage.OverrideStore, overridesEnabled bool) *signals.LogicSource {
	return signals.NewLogicSource(client, overrides, overridesEnabled, 256*1024, 60)
}

func permissiveCallerFilter() *filters.CallerFilter {
	return filters.NewCallerFilter(filters.NewEnrollment(nil), filters.AllowAll{}, filters.AllowAll{}, nil)
}

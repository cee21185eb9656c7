package jsengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge/fledge-server/errortypes"
)

func TestExecuteReturnsResult(t *testing.T) {
	executor := NewGojaExecutor()
	source := `function scoreAds(ads) { return ads.map(function(ad) { return ad.bid * 2; }); }`
	args := []json.RawMessage{json.RawMessage(`[{"bid": 1.5}, {"bid": 2}]`)}

	resp, err := executor.Execute(context.Background(), "scoreAds", source, args, time.Second)
	require.NoError(t, err)

	var scores []float64
	require.NoError(t, json.Unmarshal(resp.Result, &scores))
	assert.Equal(t, []float64{3, 4}, scores)
}

func TestExecuteCapturesBeacons(t *testing.T) {
	executor := NewGojaExecutor()
	source := `function reportResult() {
		registerAdBeacon("click", "https://seller.example.com/click");
		registerAdBeacon("view", "https://seller.example.com/view");
		return {"status": 0};
	}`

	resp, err := executor.Execute(context.Background(), "reportResult", source, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, resp.Beacons, 2)
	assert.Equal(t, Beacon{Key: "click", URI: "https://seller.example.com/click"}, resp.Beacons[0])
	assert.Equal(t, Beacon{Key: "view", URI: "https://seller.example.com/view"}, resp.Beacons[1])
}

func TestExecuteTimeout(t *testing.T) {
	executor := NewGojaExecutor()
	source := `function spin() { while (true) {} }`

	_, err := executor.Execute(context.Background(), "spin", source, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.IsType(t, &errortypes.Timeout{}, err)
}

func TestExecuteContextCancellation(t *testing.T) {
	executor := NewGojaExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	source := `function spin() { while (true) {} }`

	_, err := executor.Execute(ctx, "spin", source, nil, time.Minute)
	require.Error(t, err)
	assert.IsType(t, &errortypes.Timeout{}, err)
}

func TestExecuteUndefinedFunction(t *testing.T) {
	executor := NewGojaExecutor()
	_, err := executor.Execute(context.Background(), "scoreAds", `var x = 1;`, nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoreAds")
}

func TestExecuteScriptThrow(t *testing.T) {
	executor := NewGojaExecutor()
	source := `function scoreAds() { throw new Error("boom"); }`
	_, err := executor.Execute(context.Background(), "scoreAds", source, nil, time.Second)
	require.Error(t, err)
	assert.NotErrorAs(t, err, new(*errortypes.Timeout))
}

func TestExecuteInvalidArgument(t *testing.T) {
	executor := NewGojaExecutor()
	source := `function scoreAds() { return []; }`
	_, err := executor.Execute(context.Background(), "scoreAds", source, []json.RawMessage{json.RawMessage(`{broken`)}, time.Second)
	assert.Error(t, err)
}

func TestExecuteIsolatedBetweenCalls(t *testing.T) {
	executor := NewGojaExecutor()
	first := `var leaked = 42; function f() { return leaked; }`

	_, err := executor.Execute(context.Background(), "f", first, nil, time.Second)
	require.NoError(t, err)

	// A later script must not observe state from an earlier one.
	second := `function f() { return typeof leaked; }`
	resp, err := executor.Execute(context.Background(), "f", second, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `"undefined"`, string(resp.Result))
}

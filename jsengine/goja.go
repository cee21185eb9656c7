package jsengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/golang/glog"

	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/util/jsonutil"
)

const interruptTimedOut = "script execution timed out"

// GojaExecutor runs scripts on a fresh goja VM per call. The VM has no host
// access beyond registerAdBeacon; fetch, storage and timers are simply not
// defined.
type GojaExecutor struct{}

func NewGojaExecutor() *GojaExecutor {
	return &GojaExecutor{}
}

func (e *GojaExecutor) Execute(ctx context.Context, functionName, source string, args []json.RawMessage, timeout time.Duration) (*Response, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)

	resp := &Response{}
	if err := vm.Set("registerAdBeacon", func(key, uri string) {
		resp.Beacons = append(resp.Beacons, Beacon{Key: key, URI: uri})
	}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt(interruptTimedOut)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	if _, err := vm.RunString(source); err != nil {
		return nil, asExecuteError(functionName, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(functionName))
	if !ok {
		return nil, fmt.Errorf("function %q is not defined by the supplied script", functionName)
	}

	jsArgs := make([]goja.Value, 0, len(args))
	for i, raw := range args {
		var arg interface{}
		if err := jsonutil.Unmarshal(raw, &arg); err != nil {
			return nil, fmt.Errorf("argument %d for %s is not valid JSON: %v", i, functionName, err)
		}
		jsArgs = append(jsArgs, vm.ToValue(arg))
	}

	val, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, asExecuteError(functionName, err)
	}

	exported := val.Export()
	result, err := jsonutil.Marshal(exported)
	if err != nil {
		glog.Errorf("failed to encode %s result: %v", functionName, err)
		return nil, err
	}
	resp.Result = result
	return resp, nil
}

// asExecuteError converts a goja interrupt into the timeout error type the
// orchestration layer keys on.
func asExecuteError(functionName string, err error) error {
	if intr, ok := err.(*goja.InterruptedError); ok {
		return &errortypes.Timeout{Message: fmt.Sprintf("%s: %v", functionName, intr.Value())}
	}
	return fmt.Errorf("%s failed: %v", functionName, err)
}

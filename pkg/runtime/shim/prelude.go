package shim

import (
	"regexp"

	"github.com/dop251/goja"
)

// allowedGlobals are the ambient globals left reachable after stripping.
// Everything else on the global object is deleted before contract code
// runs; the shim then adds its own deterministic replacements.
var allowedGlobals = map[string]bool{
	"Object": true, "Function": true, "Array": true, "String": true,
	"Number": true, "BigInt": true, "Boolean": true, "Symbol": true,
	"RegExp": true, "Date": true, "Math": true, "JSON": true,
	"Proxy": true, "Reflect": true, "Promise": true,
	"Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Error": true, "AggregateError": true, "TypeError": true,
	"ReferenceError": true, "SyntaxError": true, "RangeError": true,
	"EvalError": true, "URIError": true,
	"ArrayBuffer": true, "DataView": true,
	"Int8Array": true, "Uint8Array": true, "Uint8ClampedArray": true,
	"Int16Array": true, "Uint16Array": true, "Int32Array": true,
	"Uint32Array": true, "Float32Array": true, "Float64Array": true,
	"BigInt64Array": true, "BigUint64Array": true,
	"globalThis": true, "NaN": true, "Infinity": true, "undefined": true,
	"isNaN": true, "isFinite": true, "parseInt": true, "parseFloat": true,
	"encodeURI": true, "encodeURIComponent": true,
	"decodeURI": true, "decodeURIComponent": true,
	"escape": true, "unescape": true,
}

// preludeSource defines the contract error types and the GC-independent
// stand-ins for WeakRef and FinalizationRegistry.
const preludeSource = `(function (g) {
  "use strict";
  class ContractError extends Error {
    constructor(message) {
      super(message);
      this.name = "ContractError";
    }
  }
  function ContractAssert(cond, message) {
    if (!cond) {
      throw new ContractError(message);
    }
  }
  const targets = new WeakMap();
  class WeakRef {
    constructor(target) {
      if (target === null || (typeof target !== "object" && typeof target !== "function")) {
        throw new TypeError("WeakRef: target must be an object");
      }
      targets.set(this, target);
    }
    deref() {
      return targets.get(this);
    }
  }
  class FinalizationRegistry {
    constructor(cleanup) {
      if (typeof cleanup !== "function") {
        throw new TypeError("FinalizationRegistry: cleanup must be callable");
      }
    }
    register() {}
    unregister() {
      return false;
    }
  }
  const hidden = (name, value) =>
    Object.defineProperty(g, name, { value, writable: true, configurable: true, enumerable: false });
  hidden("ContractError", ContractError);
  hidden("ContractAssert", ContractAssert);
  hidden("WeakRef", WeakRef);
  hidden("FinalizationRegistry", FinalizationRegistry);
})(globalThis);`

var (
	preludeProgram   = goja.MustCompile("weave:prelude", preludeSource, true)
	handleRefProgram = goja.MustCompile("weave:handle", `typeof handle === "function" ? handle : undefined`, false)
)

var (
	exportAsyncHandle = regexp.MustCompile(`export\s+async\s+function\s+handle`)
	exportHandle      = regexp.MustCompile(`export\s+function\s+handle`)
	exportDefaultFn   = regexp.MustCompile(`export\s+default\s+(async\s+)?function\s*(handle)?\s*\(`)
	exportDecl        = regexp.MustCompile(`(?m)^(\s*)export\s+((?:async\s+)?function\b|const\b|let\b|var\b|class\b)`)
)

// RewriteModule turns an ES module contract into a script that declares
// handle at top level.
func RewriteModule(src string) string {
	src = exportAsyncHandle.ReplaceAllString(src, "async function handle")
	src = exportHandle.ReplaceAllString(src, "function handle")
	src = exportDefaultFn.ReplaceAllString(src, "${1}function handle(")
	return exportDecl.ReplaceAllString(src, "${1}${2}")
}

// HandleRef evaluates to the contract's handle function, or undefined.
func HandleRef(vm *goja.Runtime) (goja.Callable, error) {
	v, err := vm.RunProgram(handleRefProgram)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, ErrNoHandle
	}
	return fn, nil
}

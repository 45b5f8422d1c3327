package shim

import (
	"crypto/sha1" //nolint:gosec // exposed to contracts as SHA-1, not used for security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/kernel"
	"github.com/Mindburn-Labs/weave/pkg/kv"
)

func (e *Env) getter(obj *goja.Object, name string, fn func() goja.Value) {
	get := e.vm.ToValue(func(goja.FunctionCall) goja.Value { return fn() })
	_ = obj.DefineAccessorProperty(name, get, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (e *Env) smartWeave() *goja.Object {
	vm := e.vm
	sw := vm.NewObject()

	e.getter(sw, "transaction", func() goja.Value {
		ic := e.interaction()
		if ic == nil {
			return goja.Undefined()
		}
		return e.toJS(ic.Transaction)
	})
	e.getter(sw, "block", func() goja.Value {
		ic := e.interaction()
		if ic == nil {
			return goja.Undefined()
		}
		return e.toJS(map[string]any{
			"height":     ic.Block.Height,
			"indep_hash": ic.Block.ID,
			"id":         ic.Block.ID,
			"timestamp":  ic.Block.Timestamp,
		})
	})
	e.getter(sw, "contract", func() goja.Value { return e.toJS(e.dc.Contract) })
	e.getter(sw, "unsafeClient", func() goja.Value {
		panic(vm.NewTypeError("Unsafe client not supported."))
	})

	_ = sw.Set("arweave", e.arweave())
	_ = sw.Set("contracts", e.contractsAPI())
	if e.dc.Services.KV != nil {
		_ = sw.Set("kv", e.kvAPI(e.dc.Services.KV))
	}
	return sw
}

func (e *Env) arweave() *goja.Object {
	vm := e.vm
	aw := vm.NewObject()
	_ = aw.Set("ar", e.arAPI())
	_ = aw.Set("utils", e.utilsAPI())
	_ = aw.Set("crypto", e.cryptoAPI())

	wallets := vm.NewObject()
	_ = wallets.Set("ownerToAddress", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeB64URL(call.Argument(0).String())
		if err != nil {
			return e.rejected(err)
		}
		sum := sha256.Sum256(raw)
		return e.resolved(vm.ToValue(base64.RawURLEncoding.EncodeToString(sum[:])))
	})
	_ = aw.Set("wallets", wallets)
	return aw
}

func (e *Env) arAPI() *goja.Object {
	vm := e.vm
	ar := vm.NewObject()
	must := func(s string, err error) goja.Value {
		if err != nil {
			e.throw(err)
		}
		return vm.ToValue(s)
	}
	options := func(v goja.Value) map[string]any {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		m, _ := v.Export().(map[string]any)
		return m
	}

	_ = ar.Set("winstonToAr", func(call goja.FunctionCall) goja.Value {
		opts := options(call.Argument(1))
		decimals := kernel.WinstonDecimals
		if d, ok := opts["decimals"]; ok {
			if n, ok := d.(int64); ok {
				decimals = int(n)
			}
		}
		formatted, _ := opts["formatted"].(bool)
		return must(kernel.WinstonToAr(call.Argument(0).String(), decimals, formatted))
	})
	_ = ar.Set("arToWinston", func(call goja.FunctionCall) goja.Value {
		formatted, _ := options(call.Argument(1))["formatted"].(bool)
		return must(kernel.ArToWinston(call.Argument(0).String(), formatted))
	})
	compare := func(call goja.FunctionCall) int {
		c, err := kernel.CompareUnits(call.Argument(0).String(), call.Argument(1).String())
		if err != nil {
			e.throw(err)
		}
		return c
	}
	_ = ar.Set("compare", func(call goja.FunctionCall) goja.Value { return vm.ToValue(compare(call)) })
	_ = ar.Set("isEqual", func(call goja.FunctionCall) goja.Value { return vm.ToValue(compare(call) == 0) })
	_ = ar.Set("isLessThan", func(call goja.FunctionCall) goja.Value { return vm.ToValue(compare(call) < 0) })
	_ = ar.Set("isGreaterThan", func(call goja.FunctionCall) goja.Value { return vm.ToValue(compare(call) > 0) })
	_ = ar.Set("add", func(call goja.FunctionCall) goja.Value {
		return must(kernel.AddUnits(call.Argument(0).String(), call.Argument(1).String()))
	})
	_ = ar.Set("sub", func(call goja.FunctionCall) goja.Value {
		return must(kernel.SubUnits(call.Argument(0).String(), call.Argument(1).String()))
	})
	return ar
}

func (e *Env) utilsAPI() *goja.Object {
	vm := e.vm
	u := vm.NewObject()
	str := func(v string) goja.Value { return vm.ToValue(v) }

	_ = u.Set("b64UrlEncode", func(call goja.FunctionCall) goja.Value {
		return str(b64URLEncode(call.Argument(0).String()))
	})
	_ = u.Set("b64UrlDecode", func(call goja.FunctionCall) goja.Value {
		return str(b64URLDecode(call.Argument(0).String()))
	})
	_ = u.Set("bufferTob64", func(call goja.FunctionCall) goja.Value {
		return str(base64.StdEncoding.EncodeToString(e.toBytes(call.Argument(0))))
	})
	_ = u.Set("bufferTob64Url", func(call goja.FunctionCall) goja.Value {
		return str(base64.RawURLEncoding.EncodeToString(e.toBytes(call.Argument(0))))
	})
	_ = u.Set("b64UrlToBuffer", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeB64URL(call.Argument(0).String())
		if err != nil {
			e.throw(err)
		}
		return e.bytesValue(raw)
	})
	_ = u.Set("stringToBuffer", func(call goja.FunctionCall) goja.Value {
		return e.bytesValue([]byte(call.Argument(0).String()))
	})
	_ = u.Set("bufferToString", func(call goja.FunctionCall) goja.Value {
		return str(e.utf8(e.toBytes(call.Argument(0))))
	})
	_ = u.Set("stringToB64Url", func(call goja.FunctionCall) goja.Value {
		return str(base64.RawURLEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})
	_ = u.Set("b64UrlToString", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeB64URL(call.Argument(0).String())
		if err != nil {
			e.throw(err)
		}
		return str(e.utf8(raw))
	})
	_ = u.Set("concatBuffers", func(call goja.FunctionCall) goja.Value {
		var out []byte
		obj := call.Argument(0).ToObject(vm)
		n := int(obj.Get("length").ToInteger())
		for i := 0; i < n; i++ {
			out = append(out, e.toBytes(obj.Get(fmt.Sprint(i)))...)
		}
		return e.bytesValue(out)
	})
	return u
}

func (e *Env) utf8(b []byte) string {
	if !utf8.Valid(b) {
		panic(e.vm.NewTypeError("The encoded data was not valid for encoding utf-8"))
	}
	return string(b)
}

func (e *Env) cryptoAPI() *goja.Object {
	c := e.vm.NewObject()
	_ = c.Set("hash", func(call goja.FunctionCall) goja.Value {
		algo := "SHA-256"
		if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
			algo = strings.ToUpper(a.String())
		}
		var h hash.Hash
		switch algo {
		case "SHA-1":
			h = sha1.New() //nolint:gosec // see import
		case "SHA-256":
			h = sha256.New()
		case "SHA-384":
			h = sha512.New384()
		case "SHA-512":
			h = sha512.New()
		default:
			return e.rejected(fmt.Errorf("unsupported hash algorithm %q", algo))
		}
		h.Write(e.toBytes(call.Argument(0)))
		return e.resolved(e.bytesValue(h.Sum(nil)))
	})
	return c
}

func (e *Env) contractsAPI() *goja.Object {
	vm := e.vm
	c := vm.NewObject()
	_ = c.Set("readContractState", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if id == e.dc.Contract.ID {
			err := contracts.NewError(contracts.CodeSelfRead, "A contract cannot read itself")
			e.setFatal(err)
			e.throw(err)
		}
		reader := e.dc.Services.ReadContract
		if reader == nil {
			return e.rejected(errors.New("foreign contract reads are not available"))
		}

		req := ForeignRead{ContractID: id, ShowValidity: call.Argument(2).ToBoolean()}
		if h := call.Argument(1); !goja.IsUndefined(h) && !goja.IsNull(h) {
			n := h.ToFloat()
			if math.IsNaN(n) || n < 0 || n != math.Trunc(n) {
				panic(vm.NewTypeError("readContractState: height must be a non-negative integer"))
			}
			req.Height = uint64(n)
		}
		if ic := e.interaction(); ic != nil {
			req.CurrentHeight = ic.Block.Height
		}

		// A failure inside the read contract, a self-read there included,
		// only rejects this read.
		raw, err := reader(req)
		if err != nil {
			return e.rejected(err)
		}
		v, err := e.Parse(raw)
		if err != nil {
			return e.rejected(err)
		}
		return e.resolved(v)
	})
	return c
}

func (e *Env) kvAPI(ns *kv.Namespace) *goja.Object {
	vm := e.vm
	o := vm.NewObject()

	_ = o.Set("put", func(call goja.FunctionCall) goja.Value {
		raw, ok, err := e.Stringify(call.Argument(1))
		if err != nil {
			e.throw(err)
		}
		if !ok {
			raw = []byte("null")
		}
		ns.Put(call.Argument(0).String(), raw)
		return goja.Undefined()
	})
	_ = o.Set("get", func(call goja.FunctionCall) goja.Value {
		raw, ok := ns.Get(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		v, err := e.Parse(raw)
		if err != nil {
			e.throw(err)
		}
		return v
	})
	_ = o.Set("del", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(ns.Del(call.Argument(0).String()))
	})
	_ = o.Set("getAll", func(goja.FunctionCall) goja.Value {
		return e.orderedObject(ns.Entries())
	})
	keys := func(call goja.FunctionCall) goja.Value {
		q := kv.RangeQuery{Reverse: call.Argument(2).ToBoolean()}
		var err error
		if q.Gte, err = optionalIndex(call.Argument(0)); err != nil {
			e.throw(err)
		}
		if q.Lt, err = optionalIndex(call.Argument(1)); err != nil {
			e.throw(err)
		}
		if l := call.Argument(3); !goja.IsUndefined(l) && !goja.IsNull(l) {
			f := l.ToFloat()
			q.Limit = &f
		}
		entries, err := ns.Range(q)
		if err != nil {
			e.throw(err)
		}
		return e.orderedObject(entries)
	}
	_ = o.Set("keys", keys)
	_ = o.Set("range", keys)
	return o
}

func (e *Env) orderedObject(entries []kv.Entry) goja.Value {
	raw, err := kv.OrderedObject(entries)
	if err != nil {
		e.throw(err)
	}
	v, err := e.Parse(raw)
	if err != nil {
		e.throw(err)
	}
	return v
}

func optionalIndex(v goja.Value) (*int, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, contracts.NewError(contracts.CodeInvalidRange, "range bound %v is not an integer", v)
	}
	n := int(f)
	return &n, nil
}

func b64URLEncode(s string) string {
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.ReplaceAll(s, "=", "")
}

func b64URLDecode(s string) string {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	return padBase64(s)
}

func decodeB64URL(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64URLDecode(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64url input: %w", err)
	}
	return raw, nil
}

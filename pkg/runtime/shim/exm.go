package shim

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
)

func (e *Env) exm() *goja.Object {
	vm := e.vm
	o := vm.NewObject()

	_ = o.Set("print", func(call goja.FunctionCall) goja.Value {
		msg := call.Argument(0).String()
		if e.dc.Services.Print != nil {
			e.dc.Services.Print(msg)
		} else {
			e.dc.logger().Info("contract print", "message", msg)
		}
		return goja.Undefined()
	})
	_ = o.Set("getDate", func(goja.FunctionCall) goja.Value {
		d, err := vm.New(vm.GlobalObject().Get("Date"), vm.ToValue(e.clock.DateMillis()))
		if err != nil {
			e.throw(err)
		}
		return d
	})
	_ = o.Set("deterministicFetch", e.deterministicFetch)
	return o
}

func (e *Env) deterministicFetch(call goja.FunctionCall) goja.Value {
	cache := e.dc.Services.Fetch
	if cache == nil {
		return e.rejected(errors.New("deterministicFetch is not available"))
	}

	args := make([]any, len(call.Arguments))
	values := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = a
		values[i] = a.Export()
	}
	serialized, ok, err := e.Stringify(e.vm.NewArray(args...))
	if err != nil {
		return e.rejected(err)
	}
	if !ok {
		serialized = []byte("[]")
	}

	req, err := fetchcache.RequestFromArgs(values)
	if err != nil {
		return e.rejected(err)
	}
	resp, hash, err := cache.Fetch(e.dc.ctx(), serialized, req)
	if err != nil {
		return e.rejected(err)
	}
	e.dc.logger().Debug("deterministic fetch", "url", req.URL, "hash", hash)
	return e.resolved(e.responseObject(resp))
}

func (e *Env) responseObject(resp *fetchcache.Response) *goja.Object {
	vm := e.vm
	rec := resp.Record()
	obj := vm.NewObject()
	_ = obj.Set("type", rec.Type)
	_ = obj.Set("url", rec.URL)
	_ = obj.Set("status", rec.Status)
	_ = obj.Set("statusText", rec.StatusText)
	_ = obj.Set("ok", rec.OK)
	_ = obj.Set("redirected", rec.Redirected)
	_ = obj.Set("headers", e.toJS(rec.Headers))
	e.getter(obj, "raw", func() goja.Value { return e.bytesValue(resp.Raw()) })
	_ = obj.Set("asText", func(goja.FunctionCall) goja.Value {
		text, err := resp.Text()
		if err != nil {
			e.throw(err)
		}
		return vm.ToValue(text)
	})
	_ = obj.Set("asJSON", func(goja.FunctionCall) goja.Value {
		raw, err := resp.JSON()
		if err != nil {
			e.throw(err)
		}
		v, err := e.Parse(raw)
		if err != nil {
			e.throw(err)
		}
		return v
	})
	return obj
}

// Package providers implements the built-in namespaces that sit outside the
// engine: oracle, chain, ai and crypto. Each type satisfies runtime.Provider
// and can be passed to interpreter.Options.Providers or registered later with
// Engine.RegisterProvider.
//
// The chain and ai providers are deterministic mocks. The oracle provider
// fans out to pluggable sources, which may be static values or HTTP endpoints.
package providers

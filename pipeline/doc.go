/*
	Provides an API for constructing pipeline graphs and compiling them into executable form.

	A Pipeline is the mutable design time model: named operations linked by hops that can be
	enabled, disabled and marked as error hops. Compile projects a Pipeline into an immutable
	CompiledGraph, which is what the engine runs and what the exchange form serializes.
*/
package pipeline

// Package container is the dependency injection collaborator of the job pipelines.
//
// It keeps four registries:
//   - job constructors by name, used to build named jobs;
//   - functions by name, the serializable form of inline jobs;
//   - process-wide bindings by type, used for parameters the passable can't satisfy;
//   - passable types by name, used by the codec to restore typed values.
//
// Parameters are resolved in order. A context.Context parameter receives the run
// context, any other parameter takes the first unused passable value assignable to
// it and falls back to the bindings. A variadic parameter collects every remaining
// assignable passable value.
package container

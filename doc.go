/*
	A pipeline execution engine.

	Code Organization:

	The pipeline package provides an API for how operations are linked by hops to form a
	pipeline and compiles it into an immutable graph.
	The execution of a compiled graph lives in this kettle package.
	Concrete operation kinds live in the operations package and are made available to the
	engine through an explicit registry.

	Other Concepts:

	Unit -- One running copy of an operation. Each unit runs in its own goroutine and talks
	to other units only through the queues built for the hops of the graph.

	Run -- One execution of a compiled graph. A run moves from Building to Running, then to
	Finishing or Stopping, and ends Terminated with a Result.

	Error hop -- A hop that receives the rows an operation failed on, extended with error
	metadata fields. Without an error hop a failed row stops the run.
*/
package kettle

/*
 Package edge provides the row queues that connect operations at run time.
 An edge is created for every compiled hop. Producers push batches of rows
 into the edge and each consumer copy of the receiving operation reads from
 its own lane. Edges are bounded: a full lane blocks the producer, which is
 the only flow control mechanism of the engine.
*/
package edge

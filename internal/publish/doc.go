// Package publish streams visit outcomes to external systems.
//
// KafkaSink writes every outcome as a JSON message keyed by URL. GraphSink
// maintains a (:Page)-[:LINKS_TO]->(:Page) graph in Neo4j. Multi fans an
// outcome out to several sinks. Publishing never affects the crawl state:
// the scheduler logs failures and moves on.
package publish

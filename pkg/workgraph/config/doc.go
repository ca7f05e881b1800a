/*
Package config loads workgraph deployment settings.

# Overview

A configuration file (YAML or JSON) is read into a Config, a map accessor
that tolerates missing keys and type mismatches by returning defaults, and
decoded into a typed Engine that selects the checkpoint store, the thread
lock, fan-out policy and observability.

# Engine

	store:
	  driver: redis          # memory | sqlite | mysql | redis
	  addr: localhost:6379
	  password: ${REDIS_PASSWORD}
	  prefix: "support:"
	lock:
	  driver: redis          # local | redis
	  ttl: 5m
	fanout:
	  max_parallelism: 4
	  best_effort: false
	max_steps: 500
	log:
	  level: info
	metrics:
	  exporter: prometheus   # none | otel | prometheus
	tracing:
	  enabled: true

Load and open it:

	engine, err := config.LoadEngine("workgraph.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	rt, err := config.Open(ctx, engine, os.Stderr, nil)
	if err != nil {
	    log.Fatal(err)
	}
	defer rt.Close()

	runner := rt.NewRunner(compiled)

Environment references (${VAR}) are expanded when a file is loaded.

# Raw Access

FromFile, FromYAML and FromJSON return a Config wrapping the decoded map.
Engine decodes it with mapstructure over DefaultEngine and rejects unknown
keys. Raw exposes the map for callers that layer their own settings.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config

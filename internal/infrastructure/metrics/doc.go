// Package metrics exposes Prometheus metrics for Gray Logic Vision.
//
// A Metrics value owns its own registry, so tests can create as many as
// they like without colliding on the global default registry. It observes
// the hardware lock (camera.LockObserver), counts events (events.Sink),
// records HTTP requests and reports session counts through gauge
// functions sampled at scrape time.
package metrics
